// Package lifecycle starts and stops long-lived components (remote tool
// gateway, tracing exporter, servers, config watcher) in dependency order.
package lifecycle

import "context"

// Component is a unit managed by Manager.
type Component interface {
	// Start brings the component up. It must return once the component is
	// usable; background work continues until Stop.
	Start(ctx context.Context) error

	// Stop releases resources and should honour the context deadline.
	Stop(ctx context.Context) error

	// Name is used in logs and error messages and must not be empty.
	Name() string
}
