// Package transport implements the HTTP client used by the sync engine.
// Every failure is classified into the common error taxonomy before it
// leaves this package: connection errors become Offline, 401 becomes
// Unauthorized, other 4xx become Rejected, 5xx and timeouts become
// Transient. The engine reacts to these classes only and never inspects
// status codes itself.
package transport

import "context"

// Client is the remote API surface the engine relies on. Implementations
// attach auth headers themselves.
type Client interface {
	// Send issues a JSON request and returns the raw response body.
	Send(ctx context.Context, method, path string, body any) ([]byte, error)

	// Upload issues a multipart POST carrying one binary part plus
	// string fields, and returns the raw response body.
	Upload(ctx context.Context, path string, fields map[string]string, fileName string, blob []byte) ([]byte, error)

	// Ping probes server reachability.
	Ping(ctx context.Context) error

	// SetTokens installs the access/refresh token pair after login.
	SetTokens(access, refresh string)

	// Close releases underlying resources.
	Close() error
}
