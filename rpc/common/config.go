package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultControlQueueSize       = 1024
	DefaultNotificationBufferSize = 256
	DefaultReadBufferSize         = 4 * 1024         // 4 KB, grows on demand
	DefaultMaxMessageSize         = 32 * 1024 * 1024 // 32 MB
)

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings, applied where the connector supports them
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds tcp specific socket options
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// ClientTransportConfig holds everything the IO driver needs for one connection
type ClientTransportConfig struct {
	// Endpoint is the socket path (unix), host:port (tcp) or ws:// url (ws)
	Endpoint string

	// ControlQueueSize bounds the handle -> writer channel. Producers block when it is full.
	ControlQueueSize int

	// NotificationBufferSize bounds every subscription sink. When a sink is full
	// the oldest notification is dropped and counted.
	NotificationBufferSize int

	// MaxMessageSize bounds the inbound accumulation buffer. A single message
	// larger than this is treated as a protocol error.
	MaxMessageSize int

	SocketConf SocketConf
	TCPConf    TCPConf
}

// ClientConfig is the configuration of a client handle and its driver
type ClientConfig struct {
	// TimeoutSecond only bounds connection establishment. Calls have no
	// timeout at this layer, callers bound them through their context.
	TimeoutSecond int
	Transport     ClientTransportConfig
}

// WithDefaults returns a copy of the config with all unset sizes replaced by their defaults
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.Transport.ControlQueueSize <= 0 {
		c.Transport.ControlQueueSize = DefaultControlQueueSize
	}
	if c.Transport.NotificationBufferSize <= 0 {
		c.Transport.NotificationBufferSize = DefaultNotificationBufferSize
	}
	if c.Transport.SocketConf.ReadBufferSize <= 0 {
		c.Transport.SocketConf.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Transport.MaxMessageSize <= 0 {
		c.Transport.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Transport.MaxMessageSize < c.Transport.SocketConf.ReadBufferSize {
		c.Transport.MaxMessageSize = c.Transport.SocketConf.ReadBufferSize
	}
	return c
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-24s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Dial Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Backpressure")
	addField("Control Queue Size", strconv.Itoa(c.Transport.ControlQueueSize))
	addField("Notification Buffer", strconv.Itoa(c.Transport.NotificationBufferSize))
	addField("Max Message Size", fmt.Sprintf("%d bytes", c.Transport.MaxMessageSize))

	addSection("Socket")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Transport.SocketConf.ReadBufferSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Transport.SocketConf.WriteBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.Transport.TCPConf.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.Transport.TCPConf.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.Transport.TCPConf.TCPLingerSec))

	return sb.String()
}

// --------------------------------------------------------------------------
// Demo server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures the demo endpoint used for local testing
type ServerConfig struct {
	// Endpoint on which the server listens (socket path, host:port, or host:port for ws)
	Endpoint string

	// TimeoutSecond bounds a single write to a client, 0 disables it
	TimeoutSecond int64

	// MaxMessageSize bounds a single inbound request
	MaxMessageSize int

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Write Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Max Message Size", fmt.Sprintf("%d bytes", c.MaxMessageSize))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
