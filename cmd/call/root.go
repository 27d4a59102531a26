package call

import (
	"context"
	"github.com/ValentinKolb/ipcmux/cmd/util"
	"github.com/ValentinKolb/ipcmux/rpc/client"
	"github.com/spf13/cobra"
	"time"
)

var (
	rpcClient *client.Client

	// Commands are the client commands, all of them share one connection per invocation
	Commands = []*cobra.Command{
		callCmd,
		batchCmd,
		subscribeCmd,
		perfTestCmd,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	for _, cmd := range Commands {
		// Add common RPC flags to every client command
		util.SetupRPCClientFlags(cmd)
		cmd.PersistentPreRunE = setupClient
		cmd.PersistentPostRunE = closeClient
	}
}

// setupClient connects the RPC client
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	if err := util.InitLogging(); err != nil {
		return err
	}

	config := util.GetClientConfig()
	util.Logger.Debugf("Client configuration: %s", config.String())

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout())
	defer cancel()

	rpcClient, err = client.NewClient(ctx, *config, t)
	return err
}

// closeClient closes the connection after the command finished
func closeClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// callTimeout returns the timeout of a single call
func callTimeout() time.Duration {
	return time.Duration(util.GetClientConfig().TimeoutSecond) * time.Second
}
