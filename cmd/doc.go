// Package cmd implements the command-line interface of ipcmux. It provides
// commands for talking to any JSON-RPC 2.0 endpoint over a multiplexed
// connection and for running a demo endpoint to test against.
//
// The package is organized into several subpackages:
//
//   - call: Client commands (call, batch, subscribe, perf)
//   - serve: Command for starting the demo endpoint
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See ipcmux -help for a list of all commands.
package cmd
