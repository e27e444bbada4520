// Package script runs an optional Lua hook that adjusts the extracted color
// before it is sent to the lights.
//
// The script must define a global function:
//
//	function adjust(r, g, b, track)
//	  -- track = { id = ..., title = ..., artist = ... }
//	  return r, g, b        -- or a "#rrggbb" string, or nil to keep the color
//	end
//
// Scripts can require("log") and require("color").
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/tracklight/internal/playback"
	"github.com/dokzlo13/tracklight/internal/rgb"
)

// ErrNoAdjust is returned when a script does not define adjust.
var ErrNoAdjust = errors.New("script does not define an adjust function")

const hookName = "adjust"

// Filter is a loaded color filter script. Safe for concurrent use; calls
// are serialized on a single Lua state.
type Filter struct {
	path string

	mu sync.Mutex
	L  *lua.LState
	fn *lua.LFunction
}

// LoadFilter executes the script at path and resolves its adjust function.
func LoadFilter(path string) (*Filter, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)
	L.PreloadModule("color", colorLoader)

	log.Debug().Str("path", path).Msg("Loading Lua filter script")
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute Lua script: %w", err)
	}

	fn, ok := L.GetGlobal(hookName).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%s: %w", path, ErrNoAdjust)
	}

	return &Filter{path: path, L: L, fn: fn}, nil
}

// Apply calls adjust with the color and the current track.
func (f *Filter) Apply(ctx context.Context, c rgb.Color, snap playback.Snapshot) (rgb.Color, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.L.SetContext(ctx)
	defer f.L.RemoveContext()

	track := f.L.NewTable()
	f.L.SetField(track, "id", lua.LString(snap.TrackID))
	f.L.SetField(track, "title", lua.LString(snap.Title))
	f.L.SetField(track, "artist", lua.LString(snap.Artist))

	err := f.L.CallByParam(lua.P{Fn: f.fn, NRet: 3, Protect: true},
		lua.LNumber(c.R), lua.LNumber(c.G), lua.LNumber(c.B), track)
	if err != nil {
		return c, fmt.Errorf("lua %s: %w", hookName, err)
	}
	r, g, b := f.L.Get(-3), f.L.Get(-2), f.L.Get(-1)
	f.L.Pop(3)

	switch first := r.(type) {
	case *lua.LNilType:
		return c, nil
	case lua.LString:
		parsed, err := rgb.Parse(string(first))
		if err != nil {
			return c, fmt.Errorf("lua %s returned %q: %w", hookName, string(first), err)
		}
		return parsed, nil
	case lua.LNumber:
		gn, gok := g.(lua.LNumber)
		bn, bok := b.(lua.LNumber)
		if !gok || !bok {
			return c, fmt.Errorf("lua %s must return three numbers, got %s, %s, %s",
				hookName, r.Type(), g.Type(), b.Type())
		}
		return rgb.New(clampByte(first), clampByte(gn), clampByte(bn)), nil
	default:
		return c, fmt.Errorf("lua %s returned unsupported %s", hookName, r.Type())
	}
}

// Path returns the script location.
func (f *Filter) Path() string { return f.path }

// Close releases the Lua state.
func (f *Filter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.L.Close()
}
