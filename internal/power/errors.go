package power

import (
	"errors"
	"fmt"
)

var (
	// ErrAdapter matches every *AdapterError.
	ErrAdapter = errors.New("power action failed")

	ErrWolSend    = errors.New("wake-on-lan send failed")
	ErrSSHConnect = errors.New("ssh connect failed")
	ErrSSHCommand = errors.New("ssh command failed")
	ErrHTTP       = errors.New("http shutdown failed")

	ErrMalformedAddress  = errors.New("malformed address")
	ErrUnsupportedAction = errors.New("unsupported action")
)

// AdapterError is returned by every adapter. It unwraps to the protocol
// specific sentinel and also matches ErrAdapter.
type AdapterError struct {
	Adapter AdapterKind
	Device  string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s for device %q: %v", e.Adapter, e.Device, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func (e *AdapterError) Is(target error) bool { return target == ErrAdapter }
