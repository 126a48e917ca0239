// Package cmd implements the command-line interface of dChat. It provides a
// hierarchical command structure for running a node and for talking to one as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a node (primary or follower, depending on the cluster configuration)
//   - chat: Client commands (register, login, send, read, view, subscribe, perf, ...)
//   - util: Shared utilities for flags, configuration and transport selection (internal use)
//
// Every flag can also be set as an environment variable with the DCHAT_ prefix,
// e.g. DCHAT_NODE_ID=2 or DCHAT_TRANSPORT_ENDPOINTS=localhost:8081. Variables from
// .env and .env.local in the working directory are loaded first.
//
// See dchat -help for a list of all commands.
package cmd
