package power

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
)

// Action is a power transition requested by an operator.
type Action string

const (
	ActionTurnOn  Action = "turn-on"
	ActionTurnOff Action = "turn-off"
)

type AdapterKind string

const (
	AdapterWakeOnLan    AdapterKind = "wake-on-lan"
	AdapterSSHExec      AdapterKind = "ssh-exec"
	AdapterHTTPShutdown AdapterKind = "http-shutdown"
)

// LinuxShutdownCommand is run on linux devices to power them off.
const LinuxShutdownCommand = "poweroff"

// Adapter performs one power action for one device.
type Adapter interface {
	Kind() AdapterKind
	Execute(ctx context.Context, cfg homewakev1.DeviceConfig) error
}

// Selection names the adapter serving an action and, for SSH, the command
// it runs.
type Selection struct {
	Kind    AdapterKind
	Command string
}

// Select maps a device type and action to its adapter. It depends on nothing
// but its arguments.
func Select(cfg homewakev1.DeviceConfig, action Action) (Selection, error) {
	switch action {
	case ActionTurnOn:
		switch cfg.DeviceType {
		case homewakev1.DeviceTypeVM:
			return Selection{Kind: AdapterSSHExec, Command: cfg.PowerOnCommand}, nil
		case homewakev1.DeviceTypeWindows, homewakev1.DeviceTypeLinux:
			return Selection{Kind: AdapterWakeOnLan}, nil
		}
	case ActionTurnOff:
		switch cfg.DeviceType {
		case homewakev1.DeviceTypeWindows:
			return Selection{Kind: AdapterHTTPShutdown}, nil
		case homewakev1.DeviceTypeLinux:
			return Selection{Kind: AdapterSSHExec, Command: LinuxShutdownCommand}, nil
		case homewakev1.DeviceTypeVM:
			return Selection{Kind: AdapterSSHExec, Command: cfg.ShutdownCommand}, nil
		}
	}
	return Selection{}, fmt.Errorf("%w: %s for device type %q", ErrUnsupportedAction, action, cfg.DeviceType)
}

// Protocols holds the protocol clients and settings adapters are built from.
type Protocols struct {
	Wol  WolSender
	SSH  SSHClient
	HTTP HTTPDoer

	SSHUser      string
	WolBroadcast string
	WolPort      int
	// StrictHTTP treats non-2xx shutdown responses as failures.
	StrictHTTP bool

	Log logr.Logger
}

// Plan is the fixed pair of adapters bound to a validated device config.
type Plan struct {
	TurnOn  Adapter
	TurnOff Adapter
}

// For returns the adapter serving action.
func (p *Plan) For(action Action) (Adapter, error) {
	switch action {
	case ActionTurnOn:
		return p.TurnOn, nil
	case ActionTurnOff:
		return p.TurnOff, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, action)
}

// Plan binds cfg to its turn-on and turn-off adapters.
func (p *Protocols) Plan(cfg homewakev1.DeviceConfig) (*Plan, error) {
	on, err := Select(cfg, ActionTurnOn)
	if err != nil {
		return nil, err
	}
	off, err := Select(cfg, ActionTurnOff)
	if err != nil {
		return nil, err
	}
	return &Plan{TurnOn: p.adapter(on), TurnOff: p.adapter(off)}, nil
}

func (p *Protocols) adapter(sel Selection) Adapter {
	switch sel.Kind {
	case AdapterWakeOnLan:
		broadcast := p.WolBroadcast
		if broadcast == "" {
			broadcast = DefaultWolBroadcast
		}
		port := p.WolPort
		if port == 0 {
			port = DefaultWolPort
		}
		return &WakeOnLan{Sender: p.Wol, Broadcast: broadcast, Port: port}
	case AdapterHTTPShutdown:
		return &HTTPShutdown{Client: p.HTTP, Strict: p.StrictHTTP}
	default:
		user := p.SSHUser
		if user == "" {
			user = DefaultSSHUser
		}
		return &SSHExec{Client: p.SSH, User: user, Command: sel.Command, Log: p.Log}
	}
}

// WakeOnLan broadcasts a magic packet. Success only means the packet left
// this host; the protocol has no acknowledgement.
type WakeOnLan struct {
	Sender    WolSender
	Broadcast string
	Port      int
}

func (a *WakeOnLan) Kind() AdapterKind { return AdapterWakeOnLan }

func (a *WakeOnLan) Execute(ctx context.Context, cfg homewakev1.DeviceConfig) error {
	addr := net.JoinHostPort(a.Broadcast, strconv.Itoa(a.Port))
	if err := a.Sender.Wake(ctx, cfg.MACAddress, addr); err != nil {
		return &AdapterError{Adapter: AdapterWakeOnLan, Device: cfg.Name, Err: fmt.Errorf("%w: %w", ErrWolSend, err)}
	}
	return nil
}

// SSHExec runs a single command on the device and closes the session. The
// remote exit status is logged but never turns into an error.
type SSHExec struct {
	Client  SSHClient
	User    string
	Command string
	Log     logr.Logger
}

func (a *SSHExec) Kind() AdapterKind { return AdapterSSHExec }

func (a *SSHExec) Execute(ctx context.Context, cfg homewakev1.DeviceConfig) error {
	target := SSHTarget{
		Host:   cfg.TargetAddress,
		Port:   cfg.Port,
		User:   a.User,
		KeyRef: cfg.SSHKeyRef,
	}
	status, err := a.Client.Run(ctx, target, a.Command)
	if err != nil {
		return &AdapterError{Adapter: AdapterSSHExec, Device: cfg.Name, Err: err}
	}
	a.Log.V(1).Info("remote command dispatched", "device", cfg.Name, "command", a.Command, "exitStatus", status)
	return nil
}

// HTTPShutdown asks the device's management agent to shut down.
type HTTPShutdown struct {
	Client HTTPDoer
	Strict bool
}

func (a *HTTPShutdown) Kind() AdapterKind { return AdapterHTTPShutdown }

// ShutdownURL returns the endpoint a windows device is shut down through.
func ShutdownURL(cfg homewakev1.DeviceConfig) string {
	return "http://" + net.JoinHostPort(cfg.TargetAddress, strconv.Itoa(cfg.Port)) + "/?action=System.Shutdown"
}

func (a *HTTPShutdown) Execute(ctx context.Context, cfg homewakev1.DeviceConfig) error {
	fail := func(err error) error {
		return &AdapterError{Adapter: AdapterHTTPShutdown, Device: cfg.Name, Err: fmt.Errorf("%w: %w", ErrHTTP, err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ShutdownURL(cfg), nil)
	if err != nil {
		return fail(err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if a.Strict && (resp.StatusCode < 200 || resp.StatusCode > 299) {
		return fail(fmt.Errorf("unexpected status %s", resp.Status))
	}
	return nil
}
