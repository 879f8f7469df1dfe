package host

import (
	"fmt"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// ColorRGB is a 24-bit color.
type ColorRGB struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// Hex returns the color as "#rrggbb".
func (c ColorRGB) Hex() string {
	return c.Colorful().Hex()
}

// Colorful converts the color for use with go-colorful.
func (c ColorRGB) Colorful() colorful.Color {
	return colorful.Color{
		R: float64(c.R) / 255,
		G: float64(c.G) / 255,
		B: float64(c.B) / 255,
	}
}

// String implements fmt.Stringer.
func (c ColorRGB) String() string {
	return c.Hex()
}

// ParseColor parses a "#rrggbb" color.
func ParseColor(s string) (ColorRGB, error) {
	col, err := colorful.Hex(s)
	if err != nil {
		return ColorRGB{}, fmt.Errorf("parse color %q: %w", s, err)
	}
	r, g, b := col.RGB255()
	return ColorRGB{R: r, G: g, B: b}, nil
}

// ColorEngine accepts color and effect inputs.
type ColorEngine interface {
	// SetColor registers a static color at priority. A negative duration is
	// indefinite. Origin names the requester.
	SetColor(priority int, color ColorRGB, durationMs int, origin string)

	// SetEffect starts the named effect at priority and returns a status:
	// 0 on success, negative when the effect cannot be started.
	SetEffect(name string, priority, durationMs int, origin string) int
}
