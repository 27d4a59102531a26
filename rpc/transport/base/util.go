package base

import (
	"github.com/ValentinKolb/ipcmux/rpc/common"
	"net"
	"time"
)

// bufferSetter is implemented by *net.TCPConn and *net.UnixConn
type bufferSetter interface {
	SetReadBuffer(bytes int) error
	SetWriteBuffer(bytes int) error
}

// SetSocketBuffers applies the configured kernel buffer sizes if the connection supports it
func SetSocketBuffers(conn net.Conn, conf common.SocketConf) error {
	sc, ok := conn.(bufferSetter)
	if !ok {
		return nil // e.g. net.Pipe, nothing to upgrade
	}

	// Set socket write buffer size if configured
	if conf.WriteBufferSize > 0 {
		if err := sc.SetWriteBuffer(conf.WriteBufferSize); err != nil {
			return err
		}
	}

	// Set socket read buffer size if configured
	if conf.ReadBufferSize > 0 {
		if err := sc.SetReadBuffer(conf.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeTCPConnection applies performance optimizations to a TCP connection
// using configuration values from TCPConf and SocketConf
func UpgradeTCPConnection(conn net.Conn, socketConf common.SocketConf, tcpConf common.TCPConf) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(tcpConf.TCPNoDelay); err != nil {
		return err
	}

	if err := SetSocketBuffers(tcpConn, socketConf); err != nil {
		return err
	}

	// Enable TCP keep-alive if configured
	if tcpConf.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		keepAlivePeriod := time.Duration(tcpConf.TCPKeepAliveSec) * time.Second
		if err := tcpConn.SetKeepAlivePeriod(keepAlivePeriod); err != nil {
			return err
		}
	}

	// Set linger option if configured
	if tcpConf.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(tcpConf.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}
