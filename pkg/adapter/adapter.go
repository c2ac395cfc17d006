// Package adapter turns mounted backends into errno-returning file calls.
//
// Router is the device table the registry feeds; each Device serves one
// mount. Front ends (FUSE, the CLI) sit on top of the router and implement
// Adapter when they run as long-lived servers.
package adapter

import "context"

// Adapter is a front end that exposes the router's devices through some
// protocol and can be run and stopped as a server.
//
// Lifecycle:
//  1. Creation with protocol-specific configuration
//  2. SetRouter() provides the device table
//  3. Serve() blocks until the context is cancelled or the server fails
//  4. Stop() shuts down, possibly concurrently with Serve()
type Adapter interface {
	// Serve runs the front end until ctx is cancelled. It returns nil or
	// context.Canceled on graceful shutdown.
	Serve(ctx context.Context) error

	// SetRouter injects the device table. Called once before Serve.
	SetRouter(r *Router)

	// Stop initiates shutdown. It is idempotent and safe to call
	// concurrently with Serve.
	Stop(ctx context.Context) error

	// Protocol returns the front end name for logging, e.g. "FUSE".
	Protocol() string
}
