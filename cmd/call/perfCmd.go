package call

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/cmd/util"
	"github.com/ValentinKolb/ipcmux/rpc/client"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:   "perf",
		Short: "Performance testing tool for JSON-RPC endpoints",
		Long: util.WrapString(`Runs parallel calls over a single multiplexed connection and reports throughput and latency percentiles.
The call test uses --method and --params, echo-large and batch expect the methods of the demo server (ipcmux serve).`),
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfMethod           = "rpc_ping"
	perfParams           json.RawMessage
	perfLargeValueSizeKB = 100
	perfBatchSize        = 10
	perfNumThreads       = 10
	perfSkip             = make([]string, 0)
)

// perfResult is the outcome of a single test
type perfResult struct {
	bench  testing.BenchmarkResult
	timer  gometrics.Timer
	errors int64
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Tests to skip (comma separated - e.g. call,batch)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines sharing the connection"))
	key = "method"
	perfTestCmd.Flags().String(key, "rpc_ping", util.WrapString("Method used by the call test"))
	key = "params"
	perfTestCmd.Flags().String(key, "", util.WrapString("Params (JSON) used by the call test"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the echo-large test should be (in KB)"))
	key = "batch-size"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("How many calls the batch test sends per batch"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print the connection metrics (Prometheus text format) after the tests"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	params, err := util.ParseParams(viper.GetString("params"))
	if err != nil {
		return err
	}
	perfParams = params
	perfMethod = viper.GetString("method")
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfBatchSize = max(viper.GetInt("batch-size"), 1)
	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(cmd *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for JSON-RPC endpoints")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	results := make(map[string]perfResult)
	order := []string{"call", "echo-large", "batch"}

	// call: a single request per operation
	results["call"] = runTest("call", func(ctx context.Context) error {
		return rpcClient.Request(ctx, perfMethod, perfParams, nil)
	})

	// echo-large: large payloads in both directions
	payload := strings.Repeat("x", perfLargeValueSizeKB*1024)
	results["echo-large"] = runTest("echo-large", func(ctx context.Context) error {
		var echoed []string
		if err := rpcClient.Request(ctx, "rpc_echo", []string{payload}, &echoed); err != nil {
			return err
		}
		if len(echoed) != 1 || len(echoed[0]) != len(payload) {
			return fmt.Errorf("echo did not return the %d byte payload", len(payload))
		}
		return nil
	})

	// batch: perfBatchSize calls per operation
	results["batch"] = runTest("batch", func(ctx context.Context) error {
		batch := client.NewBatchRequest()
		for i := 0; i < perfBatchSize; i++ {
			if err := batch.Add("rpc_ping", nil); err != nil {
				return err
			}
		}
		resp, err := rpcClient.ExecuteBatch(ctx, batch)
		if err != nil {
			return err
		}
		for i := 0; i < resp.Len(); i++ {
			if _, err := resp.Raw(i); err != nil {
				return err
			}
		}
		return nil
	})

	fmt.Println()
	for _, test := range order {
		printResult(test, results[test])
	}

	if viper.GetBool("metrics") {
		fmt.Println()
		rpcClient.WriteMetrics(cmd.OutOrStdout())
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runTest benchmarks op with perfNumThreads goroutines and records every call in a timer
func runTest(test string, op func(ctx context.Context) error) perfResult {
	result := perfResult{timer: gometrics.NewTimer()}
	if shouldSkip(test) {
		return result
	}

	failures := gometrics.NewCounter()
	result.bench = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				ctx, cancel := context.WithTimeout(context.Background(), callTimeout())
				start := time.Now()
				err := op(ctx)
				result.timer.UpdateSince(start)
				cancel()

				if err != nil {
					failures.Inc(1)
					util.Logger.Warningf("(%s) - error performing call: %v", test, err)
				}
			}
		})
	})
	result.errors = failures.Count()
	return result
}

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// percentiles returns p50, p95 and p99 of the recorded latencies
func percentiles(timer gometrics.Timer) []time.Duration {
	ps := timer.Snapshot().Percentiles([]float64{0.5, 0.95, 0.99})
	out := make([]time.Duration, len(ps))
	for i, p := range ps {
		out[i] = time.Duration(p)
	}
	return out
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result perfResult) {
	if result.bench.NsPerOp() == 0 {
		fmt.Printf("%-14s%s\n", test, util.Muted("skipped"))
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	ps := percentiles(result.timer)

	line := fmt.Sprintf("%-14s%.0f ops/sec\tp50=%s p95=%s p99=%s", test, opsPerSec, ps[0], ps[1], ps[2])
	if result.errors > 0 {
		fmt.Printf("%s\t%s\n", line, util.Failure(fmt.Sprintf("%d errors", result.errors)))
		return
	}
	fmt.Printf("%s\t%s\n", line, util.Success("ok"))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "P50", "P95", "P99", "Errors", "Skipped",
		"Endpoint", "Transport", "ControlQueue", "Threads", "LargeValueSizeKB", "BatchSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range order {
		result := results[test]

		var nsPerOp, opsPerSec float64
		skipped := "true"
		if result.bench.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = math.Max(float64(result.bench.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}
		ps := percentiles(result.timer)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", opsPerSec),
			ps[0].String(),
			ps[1].String(),
			ps[2].String(),
			strconv.FormatInt(result.errors, 10),
			skipped,
			config.Transport.Endpoint,
			viper.GetString("transport"),
			strconv.Itoa(config.Transport.ControlQueueSize),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfBatchSize),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
