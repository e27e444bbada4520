package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dokzlo13/tracklight/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "state.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return NewStore(d.DB)
}

func TestStore_Versioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	payload, version, err := s.Get(ctx, "sync", "missing")
	if err != nil || payload != nil || version != 0 {
		t.Fatalf("Get(missing) = %q, %d, %v; want nil, 0, nil", payload, version, err)
	}

	for i, body := range []string{`{"a":1}`, `{"a":2}`} {
		if err := s.Set(ctx, "sync", "x", []byte(body)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
		payload, version, err = s.Get(ctx, "sync", "x")
		if err != nil {
			t.Fatal(err)
		}
		if string(payload) != body || version != int64(i+1) {
			t.Errorf("Get() = %s v%d, want %s v%d", payload, version, body, i+1)
		}
	}

	if err := s.Delete(ctx, "sync", "x"); err != nil {
		t.Fatal(err)
	}
	if payload, _, _ := s.Get(ctx, "sync", "x"); payload != nil {
		t.Errorf("Get() after Delete = %s, want nil", payload)
	}
}

func TestStore_ClearKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.Set(ctx, "sync", "a", []byte(`{}`))
	s.Set(ctx, "device", "b", []byte(`{}`))

	if err := s.Clear(ctx, "sync"); err != nil {
		t.Fatal(err)
	}
	syncs, _ := s.GetAll(ctx, "sync")
	devices, _ := s.GetAll(ctx, "device")
	if len(syncs) != 0 || len(devices) != 1 {
		t.Errorf("after Clear(sync): %d sync, %d device entries; want 0, 1", len(syncs), len(devices))
	}

	if err := s.Clear(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if devices, _ := s.GetAll(ctx, "device"); len(devices) != 0 {
		t.Errorf("after Clear(\"\"): %d device entries, want 0", len(devices))
	}
}

func TestSyncState(t *testing.T) {
	ctx := context.Background()
	st := NewSyncState(newTestStore(t))

	id, err := st.LoadLastTrack(ctx)
	if err != nil || id != "" {
		t.Fatalf("LoadLastTrack() on empty store = %q, %v", id, err)
	}

	if err := st.SaveLastTrack(ctx, "A", "#ff0000"); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveLastTrack(ctx, "B", "#00ff00"); err != nil {
		t.Fatal(err)
	}
	if id, _ := st.LoadLastTrack(ctx); id != "B" {
		t.Errorf("LoadLastTrack() = %q, want B", id)
	}

	if err := st.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if id, _ := st.LoadLastTrack(ctx); id != "" {
		t.Errorf("LoadLastTrack() after Reset = %q, want empty", id)
	}
}

func TestSyncState_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.sqlite")

	d, err := db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := NewSyncState(NewStore(d.DB)).SaveLastTrack(ctx, "A", "#123456"); err != nil {
		t.Fatal(err)
	}
	d.Close()

	d, err = db.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	if id, _ := NewSyncState(NewStore(d.DB)).LoadLastTrack(ctx); id != "A" {
		t.Errorf("LoadLastTrack() after reopen = %q, want A", id)
	}
}

func TestDeviceRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceRegistry(newTestStore(t))

	for _, d := range []KnownDevice{
		{Address: "10.0.0.2:55443", ID: "0x2", Model: "color"},
		{Address: "10.0.0.1:55443", ID: "0x1", Model: "stripe"},
		{Address: "10.0.0.2:55443", ID: "0x2", Model: "color", Name: "desk"},
	} {
		if err := r.Remember(ctx, d); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}

	known, err := r.Known(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 2 {
		t.Fatalf("Known() = %d devices, want 2", len(known))
	}
	if known[0].Address != "10.0.0.1:55443" || known[1].Name != "desk" {
		t.Errorf("Known() = %+v", known)
	}
	if known[0].LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}

	if err := r.Forget(ctx, "10.0.0.1:55443"); err != nil {
		t.Fatal(err)
	}
	if known, _ := r.Known(ctx); len(known) != 1 {
		t.Errorf("Known() after Forget = %d devices, want 1", len(known))
	}
}

func TestDeviceRegistry_MovedDeviceReplacesOldAddress(t *testing.T) {
	ctx := context.Background()
	r := NewDeviceRegistry(newTestStore(t))

	for _, d := range []KnownDevice{
		{Address: "10.0.0.5:55443", ID: "0x5"},
		{Address: "10.0.0.9:55443"},
		{Address: "10.0.0.7:55443", ID: "0x5"},
	} {
		if err := r.Remember(ctx, d); err != nil {
			t.Fatalf("Remember() error = %v", err)
		}
	}

	known, err := r.Known(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(known) != 2 || known[0].Address != "10.0.0.7:55443" || known[1].Address != "10.0.0.9:55443" {
		t.Errorf("Known() = %+v, want the new address of 0x5 and the id-less record", known)
	}
}
