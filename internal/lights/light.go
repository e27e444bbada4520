// Package lights provides the device abstraction and the broadcast group the sync loop drives.
package lights

import (
	"context"
	"errors"
	"time"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

var (
	// ErrDeviceUnreachable is returned when a device does not answer at its address.
	ErrDeviceUnreachable = errors.New("device unreachable")
	// ErrDuplicateAddress is returned when a group already holds a device at the address.
	ErrDuplicateAddress = errors.New("device address already registered")
)

// ConnState is the connection state of a single light.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnected
	StateError
)

// String returns a human-readable name for the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Light is a single network-addressable light.
//
// Commands are fire-and-forget: a nil error means the command was sent.
// Failures the device reports later arrive on Errors and move the light to
// StateError.
type Light interface {
	Address() string
	Connect(ctx context.Context) error
	TurnOn(ctx context.Context, transition time.Duration) error
	SetBrightness(ctx context.Context, percent int, transition time.Duration) error
	SetColor(ctx context.Context, c rgb.Color, transition time.Duration) error

	State() ConnState
	// LastColor returns the last color successfully sent, if any.
	LastColor() (rgb.Color, bool)
	// Errors delivers asynchronous device failures. Closed by Close.
	Errors() <-chan error
	Close() error
}

// Prepare runs the setup sequence for a newly discovered light: connect,
// power on and set brightness.
func Prepare(ctx context.Context, l Light, brightness int, transition time.Duration) error {
	if err := l.Connect(ctx); err != nil {
		return err
	}
	if err := l.TurnOn(ctx, transition); err != nil {
		return err
	}
	return l.SetBrightness(ctx, brightness, transition)
}
