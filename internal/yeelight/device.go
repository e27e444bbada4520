package yeelight

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/tracklight/internal/lights"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

// ErrClosed is returned for commands sent after Close.
var ErrClosed = errors.New("device closed")

const (
	defaultDialTimeout = 3 * time.Second
	// Bulbs allow roughly 60 commands per minute per connection.
	defaultRateLimit = 1.0
	defaultBurst     = 4
)

// Option configures a Device.
type Option func(*Device)

// WithDialTimeout bounds connection setup and each write.
func WithDialTimeout(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.dialTimeout = d
		}
	}
}

// WithRateLimit sets the per-device command quota.
func WithRateLimit(rps float64, burst int) Option {
	return func(dev *Device) {
		if rps > 0 && burst > 0 {
			dev.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// Device is a single Yeelight bulb reached over TCP. It implements lights.Light.
type Device struct {
	addr        string
	id          string
	model       string
	name        string
	dialTimeout time.Duration
	limiter     *rate.Limiter

	mu        sync.Mutex
	conn      net.Conn
	state     lights.ConnState
	lastColor rgb.Color
	hasColor  bool
	lastErr   error
	nextID    int
	pending   map[int]pendingCommand
	errs      chan error
	closed    bool

	readers sync.WaitGroup
}

// pendingCommand is a written command awaiting its reply.
type pendingCommand struct {
	method string
	color  *rgb.Color // set_rgb only; recorded as LastColor once acknowledged
}

// NewDevice creates a disconnected device at addr (host:port).
func NewDevice(addr string, opts ...Option) *Device {
	d := &Device{
		addr:        addr,
		dialTimeout: defaultDialTimeout,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		pending:     make(map[int]pendingCommand),
		errs:        make(chan error, 8),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDeviceFromAdvertisement creates a device from a discovery answer.
func NewDeviceFromAdvertisement(ad Advertisement, opts ...Option) *Device {
	d := NewDevice(ad.Address, opts...)
	d.id = ad.ID
	d.model = ad.Model
	d.name = ad.Name
	return d
}

func (d *Device) Address() string { return d.addr }

// ID returns the bulb id from discovery, if known.
func (d *Device) ID() string { return d.id }

// Model returns the bulb model from discovery, if known.
func (d *Device) Model() string { return d.model }

// Name returns the user-assigned bulb name, if any.
func (d *Device) Name() string { return d.name }

// Connect opens the control connection. It is a no-op when already connected.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("yeelight %s: %w", d.addr, ErrClosed)
	}
	if d.conn != nil {
		return nil
	}
	return d.dialLocked(ctx)
}

func (d *Device) TurnOn(ctx context.Context, transition time.Duration) error {
	name, ms := effect(transition)
	return d.send(ctx, "set_power", "on", name, ms)
}

// SetBrightness sets brightness in percent, clamped to 1..100.
func (d *Device) SetBrightness(ctx context.Context, percent int, transition time.Duration) error {
	percent = min(max(percent, 1), 100)
	name, ms := effect(transition)
	return d.send(ctx, "set_bright", percent, name, ms)
}

// SetColor sends the color. LastColor reports it once the bulb acknowledges it.
func (d *Device) SetColor(ctx context.Context, c rgb.Color, transition time.Duration) error {
	name, ms := effect(transition)
	return d.sendPending(ctx, pendingCommand{method: "set_rgb", color: &c}, c.Int(), name, ms)
}

func (d *Device) State() lights.ConnState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastError returns the failure that moved the device to StateError. It is
// cleared once a later command is acknowledged.
func (d *Device) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Device) LastColor() (rgb.Color, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastColor, d.hasColor
}

func (d *Device) Errors() <-chan error { return d.errs }

// Close drops the connection and closes the error channel. Safe to call twice.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var err error
	if d.conn != nil {
		err = d.conn.Close()
		d.conn = nil
	}
	d.state = lights.StateDisconnected
	close(d.errs)
	d.mu.Unlock()

	d.readers.Wait()
	return err
}

// send writes one command. A dropped connection is re-dialed on the next call.
func (d *Device) send(ctx context.Context, method string, params ...any) error {
	return d.sendPending(ctx, pendingCommand{method: method}, params...)
}

func (d *Device) sendPending(ctx context.Context, p pendingCommand, params ...any) error {
	method := p.method
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("yeelight %s: %s: %w", d.addr, method, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return fmt.Errorf("yeelight %s: %w", d.addr, ErrClosed)
	}
	if d.conn == nil {
		if err := d.dialLocked(ctx); err != nil {
			return err
		}
	}

	d.nextID++
	cmd := Command{ID: d.nextID, Method: method, Params: params}
	line, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("yeelight %s: %w", d.addr, err)
	}

	_ = d.conn.SetWriteDeadline(time.Now().Add(d.dialTimeout))
	if _, err := d.conn.Write(line); err != nil {
		err = fmt.Errorf("yeelight %s: %s: %w", d.addr, method, err)
		d.conn.Close()
		d.conn = nil
		d.state = lights.StateError
		d.lastErr = err
		return err
	}
	d.pending[cmd.ID] = p

	log.Trace().Str("device", d.addr).Int("id", cmd.ID).Str("method", method).Msg("Command sent")
	return nil
}

func (d *Device) dialLocked(ctx context.Context) error {
	dialer := net.Dialer{Timeout: d.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		err = fmt.Errorf("yeelight %s: %w: %w", d.addr, lights.ErrDeviceUnreachable, err)
		d.state = lights.StateError
		d.lastErr = err
		return err
	}

	d.conn = conn
	d.state = lights.StateConnected
	d.pending = make(map[int]pendingCommand)

	d.readers.Add(1)
	go d.readLoop(conn)

	log.Debug().Str("device", d.addr).Msg("Connected to device")
	return nil
}

func (d *Device) readLoop(conn net.Conn) {
	defer d.readers.Done()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		resp, err := ParseResponse(scanner.Bytes())
		if err != nil {
			log.Debug().Err(err).Str("device", d.addr).Msg("Ignoring malformed reply")
			continue
		}
		if resp.IsNotification() {
			log.Trace().Str("device", d.addr).Interface("props", resp.Params).Msg("Device state changed")
			continue
		}
		d.handleReply(conn, resp)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	d.connectionLost(conn, err)
}

func (d *Device) handleReply(conn net.Conn, resp Response) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Replies still buffered on a replaced connection carry stale ids.
	if d.conn != conn {
		return
	}

	p := d.pending[resp.ID]
	delete(d.pending, resp.ID)
	if resp.Error != nil {
		d.reportLocked(&CommandError{
			Address: d.addr,
			ID:      resp.ID,
			Method:  p.method,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
		})
		return
	}

	if d.state == lights.StateError {
		log.Debug().Str("device", d.addr).Str("method", p.method).Msg("Device recovered")
		d.state = lights.StateConnected
		d.lastErr = nil
	}
	if p.color != nil {
		d.lastColor = *p.color
		d.hasColor = true
	}
}

func (d *Device) connectionLost(conn net.Conn, cause error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Replaced or closed by a writer; that path already recorded the failure.
	if d.conn != conn {
		return
	}
	conn.Close()
	d.conn = nil
	d.reportLocked(fmt.Errorf("yeelight %s: connection lost: %w", d.addr, cause))
}

// reportLocked records an asynchronous failure. Errors are dropped when
// nobody drains the channel.
func (d *Device) reportLocked(err error) {
	if d.closed {
		return
	}
	d.state = lights.StateError
	d.lastErr = err
	select {
	case d.errs <- err:
	default:
	}
}

var _ lights.Light = (*Device)(nil)
