package yeelight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// DefaultSearchAddress is the multicast group Yeelight bulbs listen on.
const DefaultSearchAddress = "239.255.255.250:1982"

const searchMessage = "M-SEARCH * HTTP/1.1\r\n" +
	"HOST: 239.255.255.250:1982\r\n" +
	"MAN: \"ssdp:discover\"\r\n" +
	"ST: wifi_bulb\r\n"

// Advertisement is a bulb's answer to a discovery search.
type Advertisement struct {
	ID              string
	Address         string // host:port of the control socket
	Model           string
	FirmwareVersion string
	Name            string
	Support         []string
	Power           bool
	Brightness      int
	Color           rgb.Color
}

// ParseAdvertisement parses a search response or NOTIFY datagram.
func ParseAdvertisement(data []byte) (Advertisement, error) {
	lines := strings.Split(string(data), "\n")
	status := strings.TrimSpace(lines[0])
	if !strings.HasPrefix(status, "HTTP/1.1 200") && !strings.HasPrefix(status, "NOTIFY") {
		return Advertisement{}, fmt.Errorf("unexpected status line %q", status)
	}

	headers := make(map[string]string)
	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ":")
		if !ok {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	location := headers["location"]
	if location == "" {
		return Advertisement{}, errors.New("missing Location header")
	}
	u, err := url.Parse(location)
	if err != nil || u.Scheme != "yeelight" {
		return Advertisement{}, fmt.Errorf("invalid Location %q", location)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return Advertisement{}, fmt.Errorf("invalid Location %q: %w", location, err)
	}

	ad := Advertisement{
		ID:              headers["id"],
		Address:         u.Host,
		Model:           headers["model"],
		FirmwareVersion: headers["fw_ver"],
		Name:            headers["name"],
		Power:           headers["power"] == "on",
	}
	if support := headers["support"]; support != "" {
		ad.Support = strings.Fields(support)
	}
	if v, err := strconv.Atoi(headers["bright"]); err == nil {
		ad.Brightness = v
	}
	if v, err := strconv.Atoi(headers["rgb"]); err == nil {
		ad.Color = rgb.FromInt(v)
	}
	return ad, nil
}

// Locator searches the local network for bulbs.
type Locator struct {
	// SearchAddress is where the search datagram is sent.
	SearchAddress string
	// MaxRetries is the number of extra searches sent when an attempt finds nothing.
	MaxRetries int
	// AttemptTimeout is how long each attempt waits for answers.
	AttemptTimeout time.Duration
}

// NewLocator creates a Locator with the given retry budget.
func NewLocator(searchAddress string, maxRetries int, attemptTimeout time.Duration) *Locator {
	if searchAddress == "" {
		searchAddress = DefaultSearchAddress
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 2 * time.Second
	}
	return &Locator{
		SearchAddress:  searchAddress,
		MaxRetries:     max(0, maxRetries),
		AttemptTimeout: attemptTimeout,
	}
}

// Discover starts a scan and streams each newly found bulb. The channel is
// closed once an attempt has found at least one bulb, the retry budget is
// spent, or ctx is cancelled. Finding nothing is not an error.
func (l *Locator) Discover(ctx context.Context) <-chan Advertisement {
	out := make(chan Advertisement)
	go func() {
		defer close(out)
		if err := l.scan(ctx, out); err != nil {
			log.Warn().Err(err).Msg("Device discovery failed")
		}
	}()
	return out
}

func (l *Locator) scan(ctx context.Context, out chan<- Advertisement) error {
	dst, err := net.ResolveUDPAddr("udp4", l.SearchAddress)
	if err != nil {
		return fmt.Errorf("failed to resolve search address: %w", err)
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("failed to open discovery socket: %w", err)
	}
	defer conn.Close()

	// Unblock a pending read as soon as the scan is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	seen := make(map[string]bool)
	attempts := l.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := conn.WriteTo([]byte(searchMessage), dst); err != nil {
			return fmt.Errorf("failed to send search: %w", err)
		}
		log.Debug().Int("attempt", attempt).Int("attempts", attempts).Msg("Discovery search sent")

		if found := l.collect(ctx, conn, seen, out); found > 0 {
			return nil
		}
	}

	log.Info().Int("attempts", attempts).Msg("Discovery finished without finding devices")
	return nil
}

// collect reads answers until the attempt times out and returns how many new
// bulbs were emitted.
func (l *Locator) collect(ctx context.Context, conn net.PacketConn, seen map[string]bool, out chan<- Advertisement) int {
	deadline := time.Now().Add(l.AttemptTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	found := 0
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return found
		}
		_ = conn.SetReadDeadline(deadline)
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if !errors.As(err, &netErr) || !netErr.Timeout() {
				log.Warn().Err(err).Msg("Discovery read failed")
			}
			return found
		}

		ad, err := ParseAdvertisement(buf[:n])
		if err != nil {
			log.Debug().Err(err).Str("from", from.String()).Msg("Ignoring discovery datagram")
			continue
		}

		key := ad.ID
		if key == "" {
			key = ad.Address
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		select {
		case out <- ad:
			found++
		case <-ctx.Done():
			return found
		}
	}
}
