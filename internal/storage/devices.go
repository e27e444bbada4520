package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

const deviceKind = "device"

// KnownDevice is a light seen by an earlier discovery.
type KnownDevice struct {
	Address  string    `json:"address"`
	ID       string    `json:"id,omitempty"`
	Model    string    `json:"model,omitempty"`
	Name     string    `json:"name,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// DeviceRegistry remembers discovered lights by address.
type DeviceRegistry struct {
	store *Store
}

// NewDeviceRegistry creates the registry view over store.
func NewDeviceRegistry(store *Store) *DeviceRegistry {
	return &DeviceRegistry{store: store}
}

// Remember records or refreshes a device. Records of the same bulb id at
// another address are forgotten, so a bulb that moved is not dialed twice.
func (r *DeviceRegistry) Remember(ctx context.Context, d KnownDevice) error {
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now().UTC()
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, deviceKind, d.Address, payload); err != nil {
		return err
	}
	if d.ID == "" {
		return nil
	}

	known, err := r.Known(ctx)
	if err != nil {
		return err
	}
	for _, old := range known {
		if old.ID == d.ID && old.Address != d.Address {
			if err := r.Forget(ctx, old.Address); err != nil {
				return fmt.Errorf("forget moved device %s: %w", old.Address, err)
			}
		}
	}
	return nil
}

// Known returns every remembered device sorted by address.
func (r *DeviceRegistry) Known(ctx context.Context) ([]KnownDevice, error) {
	payloads, err := r.store.GetAll(ctx, deviceKind)
	if err != nil {
		return nil, err
	}

	devices := make([]KnownDevice, 0, len(payloads))
	for addr, payload := range payloads {
		var d KnownDevice
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("corrupt device record %s: %w", addr, err)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// Forget removes a device.
func (r *DeviceRegistry) Forget(ctx context.Context, addr string) error {
	return r.store.Delete(ctx, deviceKind, addr)
}
