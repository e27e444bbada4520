package script

import (
	colorful "github.com/lucasb-eyer/go-colorful"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// colorLoader exposes HSL and hex helpers to scripts.
func colorLoader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "to_hsl", L.NewFunction(toHSL))
	L.SetField(mod, "from_hsl", L.NewFunction(fromHSL))
	L.SetField(mod, "hex", L.NewFunction(toHex))

	L.Push(mod)
	return 1
}

// to_hsl(r, g, b) -> h (0..360), s (0..1), l (0..1)
func toHSL(L *lua.LState) int {
	c := colorful.Color{
		R: float64(L.CheckNumber(1)) / 255,
		G: float64(L.CheckNumber(2)) / 255,
		B: float64(L.CheckNumber(3)) / 255,
	}
	h, s, l := c.Hsl()
	L.Push(lua.LNumber(h))
	L.Push(lua.LNumber(s))
	L.Push(lua.LNumber(l))
	return 3
}

// from_hsl(h, s, l) -> r, g, b
func fromHSL(L *lua.LState) int {
	c := colorful.Hsl(float64(L.CheckNumber(1)), float64(L.CheckNumber(2)), float64(L.CheckNumber(3)))
	r, g, b := c.Clamped().RGB255()
	L.Push(lua.LNumber(r))
	L.Push(lua.LNumber(g))
	L.Push(lua.LNumber(b))
	return 3
}

// hex(r, g, b) -> "#rrggbb"
func toHex(L *lua.LState) int {
	c := rgb.New(clampByte(L.CheckNumber(1)), clampByte(L.CheckNumber(2)), clampByte(L.CheckNumber(3)))
	L.Push(lua.LString(c.String()))
	return 1
}

func clampByte(n lua.LNumber) uint8 {
	switch {
	case n <= 0:
		return 0
	case n >= 255:
		return 255
	default:
		return uint8(n + 0.5)
	}
}
