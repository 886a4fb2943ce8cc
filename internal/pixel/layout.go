package pixel

import "fmt"

// Layout describes the channel count and per-channel representation of a
// decoded image.
type Layout uint8

const (
	LayoutInvalid Layout = iota
	Luma8
	LumaA8
	RGB8
	RGBA8
	Luma16
	LumaA16
	RGB16
	RGBA16
	RGB32F
	RGBA32F
)

var layoutNames = map[Layout]string{
	Luma8:   "luma8",
	LumaA8:  "luma_alpha8",
	RGB8:    "rgb8",
	RGBA8:   "rgba8",
	Luma16:  "luma16",
	LumaA16: "luma_alpha16",
	RGB16:   "rgb16",
	RGBA16:  "rgba16",
	RGB32F:  "rgb32f",
	RGBA32F: "rgba32f",
}

func (l Layout) String() string {
	if name, ok := layoutNames[l]; ok {
		return name
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

func (l Layout) Valid() bool {
	_, ok := layoutNames[l]
	return ok
}

// Channels returns the number of samples per pixel, alpha included.
func (l Layout) Channels() int {
	switch l {
	case Luma8, Luma16:
		return 1
	case LumaA8, LumaA16:
		return 2
	case RGB8, RGB16, RGB32F:
		return 3
	case RGBA8, RGBA16, RGBA32F:
		return 4
	default:
		return 0
	}
}

// ColorChannels returns the number of non-alpha samples per pixel.
func (l Layout) ColorChannels() int {
	if l.HasAlpha() {
		return l.Channels() - 1
	}
	return l.Channels()
}

func (l Layout) BytesPerChannel() int {
	switch l {
	case Luma8, LumaA8, RGB8, RGBA8:
		return 1
	case Luma16, LumaA16, RGB16, RGBA16:
		return 2
	case RGB32F, RGBA32F:
		return 4
	default:
		return 0
	}
}

func (l Layout) BytesPerPixel() int {
	return l.Channels() * l.BytesPerChannel()
}

func (l Layout) HasAlpha() bool {
	switch l {
	case LumaA8, RGBA8, LumaA16, RGBA16, RGBA32F:
		return true
	default:
		return false
	}
}

func (l Layout) IsFloat() bool {
	return l == RGB32F || l == RGBA32F
}

func (l Layout) IsLuma() bool {
	return l.ColorChannels() == 1
}

// Gray returns the layout a grayscale conversion of l produces. Integer
// layouts collapse to luma; float layouts keep their RGB/RGBA shape.
func (l Layout) Gray() Layout {
	switch l {
	case RGB8:
		return Luma8
	case RGBA8:
		return LumaA8
	case RGB16:
		return Luma16
	case RGBA16:
		return LumaA16
	default:
		return l
	}
}
