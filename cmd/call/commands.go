package call

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/ipcmux/cmd/util"
	"github.com/ValentinKolb/ipcmux/rpc/client"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"syscall"
)

var (
	callCmd = &cobra.Command{
		Use:   "call [method] [params-json]",
		Short: "Calls a method and prints the result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := util.ParseParams(optionalArg(args, 1))
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout())
			defer cancel()

			result, err := rpcClient.RequestRaw(ctx, args[0], params)
			if err != nil {
				return err
			}
			fmt.Println(util.Pretty(result))
			return nil
		},
	}
	batchCmd = &cobra.Command{
		Use:   "batch [method] [params-json] ([method] [params-json]...)",
		Short: "Sends several calls as one batch and prints the results in order",
		Long: util.WrapString(`Sends several calls as one JSON array. Arguments are read as pairs of method and params,
use '' or null for calls without params. The results are printed in the order of the arguments.`),
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected pairs of [method] [params-json], got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			batch := client.NewBatchRequest()
			for i := 0; i < len(args); i += 2 {
				params, err := util.ParseParams(args[i+1])
				if err != nil {
					return err
				}
				if err := batch.Add(args[i], params); err != nil {
					return err
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout())
			defer cancel()

			resp, err := rpcClient.ExecuteBatch(ctx, batch)
			if err != nil {
				return err
			}

			failed := 0
			for i := 0; i < resp.Len(); i++ {
				fmt.Printf("%s %s\n", util.Label(fmt.Sprintf("[%d]", i)), util.Muted(args[2*i]))
				result, err := resp.Raw(i)
				if err != nil {
					failed++
					fmt.Println(util.Failure(err.Error()))
					continue
				}
				fmt.Println(util.Pretty(result))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d calls failed", failed, resp.Len())
			}
			return nil
		},
	}
	subscribeCmd = &cobra.Command{
		Use:   "subscribe [method] [params-json]",
		Short: "Calls a subscribe method and prints notifications until interrupted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := util.ParseParams(optionalArg(args, 1))
			if err != nil {
				return err
			}

			callCtx, cancel := context.WithTimeout(cmd.Context(), callTimeout())
			sub, err := rpcClient.SubscribeCall(callCtx, args[0], params)
			cancel()
			if err != nil {
				return err
			}
			fmt.Printf("%s %s\n", util.Success("subscribed"), util.Label(sub.ID()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			received := 0
			limit := viper.GetInt("count")
		loop:
			for limit <= 0 || received < limit {
				select {
				case payload, ok := <-sub.Notifications():
					if !ok {
						// the stream ends when the connection terminates
						if err := rpcClient.Err(); err != nil {
							return common.Disconnected(err)
						}
						break loop
					}
					received++
					fmt.Printf("%s %s\n", util.Label(fmt.Sprintf("#%d", received)), util.Pretty(payload))
				case <-ctx.Done():
					break loop
				}
			}

			fmt.Printf("%s after %d notifications (%d dropped)\n", util.Muted("stopped"), received, sub.Dropped())
			return unsubscribe(sub)
		},
	}
)

func init() {
	key := "count"
	subscribeCmd.Flags().Int(key, 0, util.WrapString("Stop after this many notifications (0 means until interrupted)"))

	key = "unsubscribe-method"
	subscribeCmd.Flags().String(key, "", util.WrapString("Method to cancel the subscription on the server when done (e.g. rpc_unsubscribe), called with [id]"))
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// unsubscribe removes the local stream and optionally cancels the server side subscription
func unsubscribe(sub *client.Subscription) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout())
	defer cancel()

	if method := viper.GetString("unsubscribe-method"); method != "" {
		var ok bool
		if err := rpcClient.Request(ctx, method, []common.SubscriptionID{sub.ID()}, &ok); err != nil {
			util.Logger.Warningf("Failed to cancel subscription %s: %v", sub.ID(), err)
		} else {
			util.Logger.Debugf("Cancelled subscription %s: %t", sub.ID(), ok)
		}
	}
	if err := sub.Unsubscribe(ctx); err != nil && !errors.Is(err, common.ErrDisconnected) {
		return err
	}
	return nil
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
