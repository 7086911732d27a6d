// Package cli provides the zerometa command-line interface for managing layers.
//
// # Overview
//
// This package implements the `zerometa` CLI on top of cobra. Every command
// discovers the layers directory into a fresh registry, so the filesystem is
// the only state shared between invocations. Settings come from ZEROMETA_*
// environment variables (see pkg/config) and can be overridden with flags.
//
// # Commands
//
// list: Show installed layers
//
//	zerometa list
//	zerometa list --json
//
// install: Install a layer from a directory or a .tar.gz, .tar.zst or .zip archive
//
//	zerometa install ./echo-layer
//	zerometa install echo-1.0.0.tar.gz --overwrite
//
// uninstall: Remove an installed layer
//
//	zerometa uninstall echo
//
// enable / disable: Toggle a layer. The flag is written back to its manifest.
//
//	zerometa enable echo
//
// load: Load a layer's native code and call its entry point
//
//	zerometa load echo
//	zerometa load --enabled
//
// exec: Run a command in a layer's sandbox
//
//	zerometa exec echo -- /bin/ls ./data
//
// watch: Load enabled layers and rediscover on changes until interrupted
//
//	zerometa watch --metrics-addr :9090
//
// # Related Packages
//
//   - pkg/layers: Installer, registry and loader
//   - pkg/sandbox: Command execution
//   - pkg/config: Environment configuration
package cli
