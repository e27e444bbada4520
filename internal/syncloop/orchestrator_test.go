package syncloop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/tracklight/internal/albumart"
	"github.com/dokzlo13/tracklight/internal/lights"
	"github.com/dokzlo13/tracklight/internal/lights/lightstest"
	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

// --- Fakes ---

type scriptedPoller struct {
	mu    sync.Mutex
	snaps []playback.Snapshot
	calls int
}

func (p *scriptedPoller) Poll(context.Context) playback.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.snaps) == 0 {
		return playback.Snapshot{}
	}
	s := p.snaps[0]
	if len(p.snaps) > 1 {
		p.snaps = p.snaps[1:]
	}
	return s
}

func (p *scriptedPoller) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeFetcher struct {
	errs  []error // consumed one per call before succeeding
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls = append(f.calls, url)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return []byte(url), nil
}

// fakeExtractor maps the fetched bytes (the URL) to a color.
type fakeExtractor struct {
	colors map[string]rgb.Color
}

func (e *fakeExtractor) Extract(data []byte) (rgb.Color, error) {
	c, ok := e.colors[string(data)]
	if !ok {
		return rgb.Color{}, albumart.ErrImageDecode
	}
	return c, nil
}

func (e *fakeExtractor) Fallback() rgb.Color { return rgb.Gray }

type recordingSink struct {
	colors []rgb.Color
}

func (s *recordingSink) SetRGBColorForAll(_ context.Context, c rgb.Color, _ time.Duration) lights.Report {
	s.colors = append(s.colors, c)
	return lights.Report{Applied: []string{"10.0.0.1:55443"}, Failed: map[string]error{}}
}

type memoryStore struct {
	track   string
	saveErr error
	saves   int
}

func (m *memoryStore) LoadLastTrack(context.Context) (string, error) { return m.track, nil }

func (m *memoryStore) SaveLastTrack(_ context.Context, trackID, _ string) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.track = trackID
	return nil
}

type funcFilter func(rgb.Color) (rgb.Color, error)

func (f funcFilter) Apply(_ context.Context, c rgb.Color, _ playback.Snapshot) (rgb.Color, error) {
	return f(c)
}

func playing(id string) playback.Snapshot {
	return playback.Snapshot{IsPlaying: true, TrackID: id, AlbumArtURL: "art/" + id, Title: "Title " + id, Artist: "Artist"}
}

var (
	red  = rgb.New(255, 0, 0)
	blue = rgb.New(0, 0, 255)
)

func newTestLoop(poller Poller, fetcher *fakeFetcher, sink Sink) *Orchestrator {
	return New(Deps{
		Poller:  poller,
		Fetcher: fetcher,
		Extractor: &fakeExtractor{colors: map[string]rgb.Color{
			"art/A": red,
			"art/B": blue,
		}},
		Sink: sink,
	}, Config{PollInterval: time.Second})
}

// --- Tests ---

func TestOrchestrator_DedupSameTrack(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingSink{}
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A"), playing("A"), playing("A")}}, fetcher, sink)

	first := o.Tick(context.Background())
	if !first.Applied || first.CycleID == "" {
		t.Fatalf("first tick = %+v, want applied with cycle id", first)
	}
	for i := 0; i < 2; i++ {
		out := o.Tick(context.Background())
		if out.Applied || out.Decision.Reason != ReasonSameTrack {
			t.Errorf("tick %d = %+v, want same_track no-op", i+2, out.Decision)
		}
	}

	if len(fetcher.calls) != 1 || len(sink.colors) != 1 {
		t.Errorf("fetches = %d, applies = %d; want 1 and 1", len(fetcher.calls), len(sink.colors))
	}
}

func TestOrchestrator_IdleOnPause(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingSink{}
	paused := playback.Snapshot{}
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A"), paused, paused, playing("A")}}, fetcher, sink)

	for i := 0; i < 4; i++ {
		o.Tick(context.Background())
		if got := o.State().LastTrackID; got != "A" {
			t.Fatalf("tick %d: LastTrackID = %q, want A (pausing must not clear it)", i+1, got)
		}
	}

	if len(sink.colors) != 1 {
		t.Errorf("applies = %d, want 1 (resume of the same track is not re-applied)", len(sink.colors))
	}
}

func TestOrchestrator_RetryOnFailure(t *testing.T) {
	fetcher := &fakeFetcher{errs: []error{errors.New("connection reset")}}
	sink := &recordingSink{}
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A")}}, fetcher, sink)

	out := o.Tick(context.Background())
	if out.Err == nil || out.Applied {
		t.Fatalf("first tick = %+v, want failed", out)
	}
	if got := o.State().LastTrackID; got != "" {
		t.Fatalf("LastTrackID after failure = %q, want unchanged", got)
	}
	if len(sink.colors) != 0 {
		t.Fatal("nothing must be applied on failure")
	}

	out = o.Tick(context.Background())
	if !out.Applied || out.Color != red {
		t.Fatalf("second tick = %+v, want red applied", out)
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetches = %d, want 2", len(fetcher.calls))
	}
}

func TestOrchestrator_DecodeFailureRetries(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingSink{}
	snap := playing("A")
	snap.AlbumArtURL = "art/corrupt"
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{snap}}, fetcher, sink)

	for i := 0; i < 2; i++ {
		out := o.Tick(context.Background())
		if !errors.Is(out.Err, albumart.ErrImageDecode) {
			t.Errorf("tick %d error = %v, want ErrImageDecode", i+1, out.Err)
		}
	}
	if len(fetcher.calls) != 2 {
		t.Errorf("fetches = %d, want a retry every cycle", len(fetcher.calls))
	}
}

func TestOrchestrator_MissingArtUsesFallback(t *testing.T) {
	fetcher := &fakeFetcher{}
	sink := &recordingSink{}
	snap := playing("A")
	snap.AlbumArtURL = ""
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{snap}}, fetcher, sink)

	out := o.Tick(context.Background())
	if !out.Applied || out.Color != rgb.Gray {
		t.Fatalf("tick = %+v, want fallback applied", out)
	}
	if len(fetcher.calls) != 0 {
		t.Error("nothing must be fetched without a URL")
	}
	if o.State().LastTrackID != "A" {
		t.Error("state must advance after the fallback was applied")
	}
}

func TestOrchestrator_Filter(t *testing.T) {
	green := rgb.New(0, 255, 0)

	tests := []struct {
		name   string
		filter Filter
		want   rgb.Color
	}{
		{"adjusts", funcFilter(func(rgb.Color) (rgb.Color, error) { return green, nil }), green},
		{"error keeps color", funcFilter(func(c rgb.Color) (rgb.Color, error) { return green, errors.New("lua: boom") }), red},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A")}}, &fakeFetcher{}, sink)
			o.deps.Filter = tt.filter

			out := o.Tick(context.Background())
			if out.Color != tt.want || len(sink.colors) != 1 || sink.colors[0] != tt.want {
				t.Errorf("applied %v, want %v", sink.colors, tt.want)
			}
		})
	}
}

func TestOrchestrator_Persistence(t *testing.T) {
	t.Run("restore skips applied track", func(t *testing.T) {
		store := &memoryStore{track: "A"}
		sink := &recordingSink{}
		o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A")}}, &fakeFetcher{}, sink)
		o.deps.Store = store

		if err := o.Restore(context.Background()); err != nil {
			t.Fatal(err)
		}
		if out := o.Tick(context.Background()); out.Applied {
			t.Error("restored track must not be re-applied")
		}
	})

	t.Run("saves applied track", func(t *testing.T) {
		store := &memoryStore{}
		o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("B")}}, &fakeFetcher{}, &recordingSink{})
		o.deps.Store = store

		o.Tick(context.Background())
		if store.track != "B" {
			t.Errorf("stored track = %q, want B", store.track)
		}
	})

	t.Run("save failure still advances", func(t *testing.T) {
		store := &memoryStore{saveErr: errors.New("disk full")}
		o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A"), playing("A")}}, &fakeFetcher{}, &recordingSink{})
		o.deps.Store = store

		o.Tick(context.Background())
		if o.State().LastTrackID != "A" {
			t.Error("in-memory state must advance when persisting fails")
		}
		if out := o.Tick(context.Background()); out.Applied {
			t.Error("track re-applied after a persist failure")
		}
	})
}

func TestOrchestrator_Status(t *testing.T) {
	o := newTestLoop(&scriptedPoller{snaps: []playback.Snapshot{playing("A"), {}}}, &fakeFetcher{}, &recordingSink{})

	o.Tick(context.Background())
	o.Tick(context.Background())

	st := o.Status()
	if st.LastTrackID != "A" || st.LastColor == nil || *st.LastColor != red {
		t.Errorf("Status() = %+v", st)
	}
	if st.Cycles != 2 || st.LastCycle.IsZero() {
		t.Errorf("Cycles = %d, LastCycle = %v", st.Cycles, st.LastCycle)
	}
}

func TestOrchestrator_Run(t *testing.T) {
	poller := &scriptedPoller{}
	o := New(Deps{Poller: poller, Fetcher: &fakeFetcher{}, Extractor: &fakeExtractor{}, Sink: &recordingSink{}},
		Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for poller.Calls() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if poller.Calls() != 1 {
		t.Fatalf("polls = %d, want the first cycle to run immediately", poller.Calls())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if poller.Calls() != 1 {
		t.Errorf("polls = %d, want 1 within a long interval", poller.Calls())
	}
}

// --- End to end ---

func solidPNG(t *testing.T, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	art := map[string][]byte{
		"/a.png": solidPNG(t, color.RGBA{R: 255, A: 255}),
		"/b.png": solidPNG(t, color.RGBA{B: 255, A: 255}),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := art[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	}))
	defer srv.Close()

	group := lights.NewGroup()
	defer group.Close()
	bulbs := []*lightstest.Fake{lightstest.New("10.0.0.1:55443"), lightstest.New("10.0.0.2:55443")}
	for _, b := range bulbs {
		if err := group.Add(b); err != nil {
			t.Fatal(err)
		}
	}

	a := playback.Snapshot{IsPlaying: true, TrackID: "A", AlbumArtURL: srv.URL + "/a.png"}
	b := playback.Snapshot{IsPlaying: true, TrackID: "B", AlbumArtURL: srv.URL + "/b.png"}

	o := New(Deps{
		Poller:    &scriptedPoller{snaps: []playback.Snapshot{a, a, b}},
		Fetcher:   albumart.NewFetcher(srv.Client(), 0),
		Extractor: albumart.NewExtractor(albumart.DefaultOptions()),
		Sink:      group,
	}, Config{PollInterval: time.Second, Transition: 250 * time.Millisecond})

	for i := 0; i < 3; i++ {
		if out := o.Tick(context.Background()); out.Err != nil {
			t.Fatalf("tick %d error = %v", i+1, out.Err)
		}
	}

	for _, bulb := range bulbs {
		got := bulb.Colors()
		if len(got) != 2 || got[0] != red || got[1] != blue {
			t.Errorf("%s colors = %v, want [%v %v]", bulb.Address(), got, red, blue)
		}
	}
	if o.State().LastTrackID != "B" {
		t.Errorf("LastTrackID = %q, want B", o.State().LastTrackID)
	}
}
