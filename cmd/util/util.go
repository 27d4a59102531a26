package util

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"github.com/ValentinKolb/ipcmux/rpc/transport"
	"github.com/ValentinKolb/ipcmux/rpc/transport/tcp"
	"github.com/ValentinKolb/ipcmux/rpc/transport/unix"
	"github.com/ValentinKolb/ipcmux/rpc/transport/ws"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

var Logger = logger.GetLogger("cmd")

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupRPCClientFlags adds the connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "endpoint"
	cmd.PersistentFlags().String(key, "/tmp/ipcmux.sock", WrapString("The endpoint to connect to: a socket path (unix), host:port (tcp) or host:port / ws:// url (ws)"))

	key = "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("Timeout in seconds for connecting and for a single call"))

	key = "control-queue"
	cmd.PersistentFlags().Int(key, common.DefaultControlQueueSize, WrapString("How many outgoing messages may be queued before callers block"))

	key = "notification-buffer"
	cmd.PersistentFlags().Int(key, common.DefaultNotificationBufferSize, WrapString("How many notifications are buffered per subscription before the oldest is dropped"))

	key = "max-message-size"
	cmd.PersistentFlags().Int(key, common.DefaultMaxMessageSize/1024, WrapString("The maximum size of a single received message (in KB)"))

	key = "write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB, ignored for ws)"))

	key = "read-buffer"
	cmd.PersistentFlags().Int(key, 4, WrapString("The initial size of the read buffer (in KB)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "tcp-linger"
	cmd.PersistentFlags().Int(key, 0, WrapString("The linger time (in seconds, only for tcp)"))
}

// InitConfig loads env files and binds IPCMUX_* environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("ipcmux")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging configures all package loggers from the log-level and log-file flags
func InitLogging() error {
	return common.InitLoggers(viper.GetString("log-level"), viper.GetString("log-file"))
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	conf := &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			Endpoint:               viper.GetString("endpoint"),
			ControlQueueSize:       viper.GetInt("control-queue"),
			NotificationBufferSize: viper.GetInt("notification-buffer"),
			MaxMessageSize:         viper.GetInt("max-message-size") * 1024,
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("tcp-linger"),
				TCPNoDelay:      viper.GetBool("tcp-nodelay"),
			},
		},
	}

	withDefaults := conf.WithDefaults()
	return &withDefaults
}

// GetTransport creates the client transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "ws":
		return ws.NewWSClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport based on configuration
func GetServerTransport(workers int) (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "unix":
		return unix.NewUnixServerTransport(workers), nil
	case "tcp":
		return tcp.NewTCPServerTransportWithWorkers(workers), nil
	case "ws":
		return ws.NewWSServerTransportWithWorkers(workers), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Output
// --------------------------------------------------------------------------

var (
	Success = color.New(color.FgGreen, color.Bold).SprintFunc()
	Failure = color.New(color.FgRed, color.Bold).SprintFunc()
	Label   = color.New(color.FgCyan).SprintFunc()
	Muted   = color.New(color.FgHiBlack).SprintFunc()
)

// ParseParams parses a command line argument as raw JSON params. An empty argument or null means no params.
func ParseParams(arg string) (json.RawMessage, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" || arg == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(arg)) {
		return nil, fmt.Errorf("params are not valid JSON: %s", arg)
	}
	return json.RawMessage(arg), nil
}

// Pretty indents a JSON value for printing, invalid JSON is returned as is
func Pretty(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
