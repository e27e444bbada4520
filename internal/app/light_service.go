package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/config"
	"github.com/dokzlo13/tracklight/internal/lights"
	"github.com/dokzlo13/tracklight/internal/storage"
	"github.com/dokzlo13/tracklight/internal/yeelight"
)

// LightService owns the device group and populates it by discovery.
type LightService struct {
	cfg *config.Config

	Group    *lights.Group
	Locator  *yeelight.Locator
	Registry *storage.DeviceRegistry

	ready atomic.Bool
}

// DeviceStatus is one light as reported by /status.
type DeviceStatus struct {
	Address   string `json:"address"`
	ID        string `json:"id,omitempty"`
	Model     string `json:"model,omitempty"`
	Name      string `json:"name,omitempty"`
	State     string `json:"state"`
	LastColor string `json:"last_color,omitempty"`
}

// identified is implemented by lights that know their discovery identity.
type identified interface {
	ID() string
	Model() string
	Name() string
}

// NewLightService creates the group and the locator. Nothing is sent until Discover.
func NewLightService(cfg *config.Config, registry *storage.DeviceRegistry) *LightService {
	return &LightService{
		cfg:   cfg,
		Group: lights.NewGroup(),
		Locator: yeelight.NewLocator(
			cfg.Discovery.SearchAddress,
			cfg.Discovery.MaxRetries,
			cfg.Discovery.AttemptTimeout.Duration(),
		),
		Registry: registry,
	}
}

// Discover runs one scan and registers every answering light concurrently,
// each running the connect, power on and brightness sequence. Remembered
// lights missed by the scan are added when use_known_devices is set.
// Finding nothing is not an error; the loop then runs with an empty group.
func (s *LightService) Discover(ctx context.Context) error {
	defer s.ready.Store(true)

	start := time.Now()
	var wg sync.WaitGroup
	for ad := range s.Locator.Discover(ctx) {
		log.Info().
			Str("device", ad.Address).
			Str("id", ad.ID).
			Str("model", ad.Model).
			Str("name", ad.Name).
			Msg("Found device")

		wg.Add(1)
		go func(ad yeelight.Advertisement) {
			defer wg.Done()
			if s.register(ctx, yeelight.NewDeviceFromAdvertisement(ad, s.deviceOptions()...)) {
				s.remember(ctx, storage.KnownDevice{Address: ad.Address, ID: ad.ID, Model: ad.Model, Name: ad.Name})
			}
		}(ad)
	}
	wg.Wait()

	if s.cfg.Discovery.UseKnownDevices && s.Registry != nil {
		s.addKnown(ctx)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	count := s.Group.Len()
	event := log.Info()
	if count == 0 {
		event = log.Warn()
	}
	event.Int("devices", count).Dur("elapsed", time.Since(start)).Msg("Device discovery finished")
	return nil
}

func (s *LightService) addKnown(ctx context.Context) {
	known, err := s.Registry.Known(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load known devices")
		return
	}

	var wg sync.WaitGroup
	for _, kd := range known {
		if s.Group.Has(kd.Address) {
			continue
		}
		log.Info().Str("device", kd.Address).Str("id", kd.ID).Msg("Adding known device missed by discovery")

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			s.register(ctx, yeelight.NewDevice(addr, s.deviceOptions()...))
		}(kd.Address)
	}
	wg.Wait()
}

// register adds the device and prepares it. A device that fails to prepare
// stays in the group and is re-dialed by later commands.
func (s *LightService) register(ctx context.Context, dev *yeelight.Device) bool {
	if err := s.Group.Add(dev); err != nil {
		if !errors.Is(err, lights.ErrDuplicateAddress) {
			log.Warn().Err(err).Str("device", dev.Address()).Msg("Failed to add device")
		}
		dev.Close()
		return false
	}

	err := lights.Prepare(ctx, dev, s.cfg.Discovery.Brightness, s.cfg.Sync.Transition.Duration())
	if err != nil {
		log.Warn().Err(err).Str("device", dev.Address()).Msg("Failed to prepare device, will retry on next color change")
		return true
	}
	log.Info().Str("device", dev.Address()).Int("brightness", s.cfg.Discovery.Brightness).Msg("Device ready")
	return true
}

func (s *LightService) remember(ctx context.Context, d storage.KnownDevice) {
	if s.Registry == nil {
		return
	}
	if err := s.Registry.Remember(ctx, d); err != nil {
		log.Warn().Err(err).Str("device", d.Address).Msg("Failed to remember device")
	}
}

func (s *LightService) deviceOptions() []yeelight.Option {
	return []yeelight.Option{
		yeelight.WithDialTimeout(s.cfg.Devices.DialTimeout.Duration()),
		yeelight.WithRateLimit(s.cfg.Devices.RateLimitRPS, s.cfg.Devices.RateLimitBurst),
	}
}

// Ready reports whether discovery has finished.
func (s *LightService) Ready() bool {
	return s.ready.Load()
}

// Devices reports every light with its connection state.
func (s *LightService) Devices() []DeviceStatus {
	members := s.Group.Members()
	out := make([]DeviceStatus, 0, len(members))
	for _, l := range members {
		st := DeviceStatus{Address: l.Address(), State: l.State().String()}
		if info, ok := l.(identified); ok {
			st.ID, st.Model, st.Name = info.ID(), info.Model(), info.Name()
		}
		if c, ok := l.LastColor(); ok {
			st.LastColor = c.String()
		}
		out = append(out, st)
	}
	return out
}

// Close closes every light.
func (s *LightService) Close() {
	if err := s.Group.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close device group")
	}
}
