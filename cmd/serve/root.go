package serve

import (
	cmdUtil "github.com/ValentinKolb/ipcmux/cmd/util"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the demo JSON-RPC endpoint",
		Long: `Start a JSON-RPC endpoint for local testing of clients. It serves rpc_ping, rpc_echo, rpc_sleep,
rpc_subscribe and rpc_unsubscribe. The configuration can be set via command line flags or environment
variables. The format of the environment variables is IPCMUX_<flag> (e.g. IPCMUX_TIMEOUT=15)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "/tmp/ipcmux.sock", cmdUtil.WrapString("The address on which the endpoint will listen (e.g. /tmp/ipcmux.sock, 0.0.0.0:8080, ...)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 5, cmdUtil.WrapString("Timeout in seconds for writing to a client"))

	key = "max-message-size"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxMessageSize/1024, cmdUtil.WrapString("The maximum size of a single request (in KB)"))

	key = "workers"
	ServeCmd.PersistentFlags().Int(key, 64, cmdUtil.WrapString("How many requests of a single connection are processed concurrently"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := cmdUtil.InitLogging(); err != nil {
		return err
	}

	// read the configuration from the command line flags and environment variables
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.MaxMessageSize = viper.GetInt("max-message-size") * 1024
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	return nil
}

// run starts the demo endpoint and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	t, err := cmdUtil.GetServerTransport(viper.GetInt("workers"))
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(
		*serveCmdConfig,
		t,
	)

	// Close the server on interrupt so the unix socket file is removed
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		if _, ok := <-sig; ok {
			cmdUtil.Logger.Infof("Shutting down")
			_ = serv.Close()
		}
	}()

	return serv.Serve()
}
