package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filter.lua")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFilter_Apply(t *testing.T) {
	snap := playback.Snapshot{IsPlaying: true, TrackID: "A", Title: "Song", Artist: "Band"}
	in := rgb.New(200, 100, 50)

	tests := []struct {
		name    string
		script  string
		want    rgb.Color
		wantErr bool
	}{
		{
			name:   "numbers",
			script: `function adjust(r, g, b, track) return b, g, r end`,
			want:   rgb.New(50, 100, 200),
		},
		{
			name:   "hex string",
			script: `function adjust() return "#0a0b0c" end`,
			want:   rgb.New(10, 11, 12),
		},
		{
			name:   "nil keeps color",
			script: `function adjust() return nil end`,
			want:   in,
		},
		{
			name:   "clamped",
			script: `function adjust() return -20, 300, 127.6 end`,
			want:   rgb.New(0, 255, 128),
		},
		{
			name:   "track fields",
			script: `function adjust(r, g, b, t) if t.id == "A" and t.artist == "Band" then return 1, 2, 3 end end`,
			want:   rgb.New(1, 2, 3),
		},
		{
			name:   "color helpers",
			script: `local color = require("color")
function adjust(r, g, b)
  local h, s, l = color.to_hsl(r, g, b)
  return color.hex(color.from_hsl(h, 0, l))
end`,
			want: rgb.New(125, 125, 125),
		},
		{
			name:    "runtime error",
			script:  `function adjust() error("boom") end`,
			want:    in,
			wantErr: true,
		},
		{
			name:    "bad hex",
			script:  `function adjust() return "nope" end`,
			want:    in,
			wantErr: true,
		},
		{
			name:    "partial numbers",
			script:  `function adjust() return 1, "x" end`,
			want:    in,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := LoadFilter(writeScript(t, tt.script))
			if err != nil {
				t.Fatalf("LoadFilter() error = %v", err)
			}
			defer f.Close()

			got, err := f.Apply(context.Background(), in, snap)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Apply() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadFilter_Errors(t *testing.T) {
	if _, err := LoadFilter(writeScript(t, `x = 1`)); !errors.Is(err, ErrNoAdjust) {
		t.Errorf("LoadFilter() without adjust error = %v, want ErrNoAdjust", err)
	}
	if _, err := LoadFilter(writeScript(t, `function adjust(`)); err == nil {
		t.Error("LoadFilter() with syntax error returned nil error")
	}
	if _, err := LoadFilter(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("LoadFilter() with missing file returned nil error")
	}
}

func TestFilter_LogModule(t *testing.T) {
	f, err := LoadFilter(writeScript(t, `local log = require("log")
function adjust(r, g, b, t)
  log.info("adjusting", { track = t.id, r = r })
  return r, g, b
end`))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	c := rgb.New(1, 2, 3)
	if got, err := f.Apply(context.Background(), c, playback.Snapshot{TrackID: "A"}); err != nil || got != c {
		t.Errorf("Apply() = %v, %v; want %v", got, err, c)
	}
}

func TestFilter_ContextCancelsRunawayScript(t *testing.T) {
	f, err := LoadFilter(writeScript(t, `function adjust() while true do end end`))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	in := rgb.New(9, 9, 9)
	got, err := f.Apply(ctx, in, playback.Snapshot{})
	if err == nil {
		t.Fatal("Apply() error = nil, want cancellation")
	}
	if got != in {
		t.Errorf("Apply() = %v, want unchanged %v", got, in)
	}
}
