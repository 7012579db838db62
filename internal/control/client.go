// Package control is the client side of the relay's control listener,
// used by the process that drives visits.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/coffersTech/extrelay/internal/profile"
	"github.com/coffersTech/extrelay/internal/transport"
	"github.com/coffersTech/extrelay/internal/visit"
	"github.com/coffersTech/extrelay/internal/wire"
)

// Client sends control messages to one relay.
type Client struct {
	sock *transport.SendingSocket
}

// Dial connects to a relay listening on addr.
func Dial(ctx context.Context, addr transport.Address, logger *slog.Logger) (*Client, error) {
	sock, err := transport.Dial(ctx, addr, transport.SendingOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Client{sock: sock}, nil
}

// DialProfile reads the port the relay published in profileDir and
// connects to it, polling until the port appears or ctx is done.
func DialProfile(ctx context.Context, profileDir string, logger *slog.Logger) (*Client, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		port, err := profile.ReadPort(profileDir)
		if err == nil {
			return Dial(ctx, transport.Address{Host: "127.0.0.1", Port: port}, logger)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for relay port: %w (last error: %v)", ctx.Err(), err)
		case <-ticker.C:
		}
	}
}

// Initialize starts visitID. extra fields are forwarded with the meta record.
func (c *Client) Initialize(visitID int64, extra map[string]any) error {
	return c.sendTagged(visit.TagInitialize, visitID, extra)
}

// Finalize ends visitID.
func (c *Client) Finalize(visitID int64, extra map[string]any) error {
	return c.sendTagged(visit.TagFinalize, visitID, extra)
}

// SetVisitLegacy sends a bare visit id.
func (c *Client) SetVisitLegacy(visitID int64) error {
	return c.sock.SendJSON(visitID)
}

// Send writes a raw frame.
func (c *Client) Send(f wire.Frame) error {
	return c.sock.Send(f)
}

func (c *Client) sendTagged(action string, visitID int64, extra map[string]any) error {
	msg := make(map[string]any, len(extra)+2)
	maps.Copy(msg, extra)
	msg[visit.FieldAction] = action
	msg[visit.FieldVisitID] = visitID
	return c.sock.SendJSON(msg)
}

// Close flushes pending messages and disconnects.
func (c *Client) Close() error {
	return c.sock.Close()
}
