package power

import (
	"context"
	"net/http"
)

// WolSender sends Wake-on-LAN magic packets
type WolSender interface {
	Wake(ctx context.Context, macAddress string, addr string) error
}

// SSHTarget identifies the host and credentials for a single SSH command.
type SSHTarget struct {
	Host string
	Port int
	User string
	// KeyRef is a path to a private key. Empty means agent and default identities.
	KeyRef string
}

// SSHClient executes one command over a fresh SSH session. It returns the
// remote exit status, or -1 when the remote side did not report one.
type SSHClient interface {
	Run(ctx context.Context, target SSHTarget, command string) (int, error)
}

// HTTPDoer allows mocking HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Pinger checks if a host is reachable. Network failures are reported as
// unreachable; the error is reserved for malformed addresses.
type Pinger interface {
	IsReachable(ctx context.Context, address string) (bool, error)
}
