package cmd

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/ipcmux/cmd/call"
	"github.com/ValentinKolb/ipcmux/cmd/serve"
	"github.com/ValentinKolb/ipcmux/cmd/util"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "ipcmux",
		Short: "multiplexed JSON-RPC client",
		Long: fmt.Sprintf(`ipcmux (v%s)

A JSON-RPC 2.0 client multiplexing concurrent calls, batches and
subscriptions over a single unix socket, tcp or websocket connection.`, Version),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of ipcmux",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ipcmux v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.Commands...)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "transport"
	RootCmd.PersistentFlags().String(key, "unix", util.WrapString("transport to use (unix, tcp, ws)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
	key = "log-file"
	RootCmd.PersistentFlags().String(key, "", util.WrapString("Write logs to this file (rotated) instead of stdout"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", util.Failure("Error:"), err)
		os.Exit(1)
	}
}
