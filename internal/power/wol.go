package power

import (
	"context"
	"fmt"
	"net"

	"github.com/mdlayher/wol"
)

const (
	DefaultWolBroadcast = "255.255.255.255"
	DefaultWolPort      = 9
)

// RealWolSender sends magic packets over UDP using mdlayher/wol.
type RealWolSender struct{}

func (w *RealWolSender) Wake(ctx context.Context, macAddress string, addr string) error {
	mac, err := net.ParseMAC(macAddress)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", macAddress, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if err := client.Wake(addr, mac); err != nil {
		return fmt.Errorf("failed to send magic packet to %s: %w", addr, err)
	}
	return nil
}
