// Package lightstest provides an in-memory lights.Light for tests.
package lightstest

import (
	"context"
	"sync"
	"time"

	"github.com/dokzlo13/tracklight/internal/lights"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

// Fake is a scriptable in-memory light.
type Fake struct {
	addr string

	mu         sync.Mutex
	state      lights.ConnState
	colors     []rgb.Color
	brightness int
	on         bool
	connectErr error
	colorErr   error
	errs       chan error
	closed     bool
}

// New creates a disconnected fake light at addr.
func New(addr string) *Fake {
	return &Fake{addr: addr, errs: make(chan error, 4)}
}

// FailConnect makes Connect return err.
func (f *Fake) FailConnect(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
	return f
}

// FailColor makes SetColor return err. Pass nil to recover.
func (f *Fake) FailColor(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.colorErr = err
	return f
}

// Report pushes an asynchronous device error.
func (f *Fake) Report(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.state = lights.StateError
	select {
	case f.errs <- err:
	default:
	}
}

// Colors returns every color successfully applied, oldest first.
func (f *Fake) Colors() []rgb.Color {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rgb.Color(nil), f.colors...)
}

// Brightness returns the last brightness set.
func (f *Fake) Brightness() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.brightness
}

// IsOn reports whether TurnOn was called.
func (f *Fake) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

func (f *Fake) Address() string { return f.addr }

func (f *Fake) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		f.state = lights.StateError
		return f.connectErr
	}
	f.state = lights.StateConnected
	return nil
}

func (f *Fake) TurnOn(context.Context, time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.on = true
	return nil
}

func (f *Fake) SetBrightness(_ context.Context, percent int, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brightness = percent
	return nil
}

func (f *Fake) SetColor(_ context.Context, c rgb.Color, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.colorErr != nil {
		f.state = lights.StateError
		return f.colorErr
	}
	f.colors = append(f.colors, c)
	return nil
}

func (f *Fake) State() lights.ConnState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Fake) LastColor() (rgb.Color, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.colors) == 0 {
		return rgb.Color{}, false
	}
	return f.colors[len(f.colors)-1], true
}

func (f *Fake) Errors() <-chan error { return f.errs }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.state = lights.StateDisconnected
	close(f.errs)
	return nil
}

var _ lights.Light = (*Fake)(nil)
