// Package sandbox mediates command execution on behalf of layers.
//
// # Overview
//
// Each layer gets a LayerSandbox: a private working directory under the
// sandbox root and a Permissions value. Before a command is spawned, the
// command and every path-like argument are checked against the allowed path
// prefixes; the working directory is always allowed.
//
// The checks are a cooperative gate inside the host process. They are not an
// operating system sandbox: there are no namespaces, cgroups or seccomp
// filters, and a spawned process can reach anything its user can. Resource
// ceilings are declarative unless the Manager is told to enforce them, in
// which case the memory ceiling is applied with prlimit on Linux.
//
// # Components
//
// Permissions: network flag, allowed path prefixes, memory and CPU ceilings
//
// Policy: YAML file mapping layer IDs to Permissions, with a default
//
// LayerSandbox: permission checks and command execution for one layer
//
// Manager: the sandboxes of the host, keyed by layer ID
//
// AuditLogger: JSON lines recording every execution decision
//
// # Usage Example
//
//	manager := sandbox.NewManager("", logger)
//	sb, err := manager.Create(layer, sandbox.DefaultPermissions())
//	if err != nil {
//	    return err
//	}
//	out, err := sb.Execute(ctx, "/bin/echo", "hello")
//	if errors.Is(err, layers.ErrPermissionDenied) {
//	    // refused before spawning
//	}
//
// # Related Packages
//
//   - pkg/layers: layer metadata and the error kinds reused here
//   - pkg/observability: execution metrics
package sandbox
