// Package led decodes the LED animation payloads the phone app writes to the
// accessory and classifies them into game events.
//
// Payload layout: byte 3 is the header (low 5 bits frame count, high 3 bits
// priority), followed by one 3-byte keyframe per frame starting at offset 4:
//
//	byte 0  duration in 50 ms ticks
//	byte 1  red (low nibble), green (high nibble)
//	byte 2  blue (low nibble), vibration (bits 4-6), interpolate (bit 7)
package led

import (
	"errors"
	"fmt"
	"time"
)

// TickDuration is the time unit of a keyframe duration.
const TickDuration = 50 * time.Millisecond

const (
	headerOffset = 3
	framesOffset = 4
	frameLen     = 3

	// MaxFrames is the most frames a header can announce.
	MaxFrames = 0x1f
)

// ErrTruncated is returned when the header announces more frames than the
// payload holds.
var ErrTruncated = errors.New("led: payload truncated")

// Color holds the 4-bit intensity of each channel.
type Color struct {
	R, G, B uint8
}

// ColorClass is the coarse color bucket a keyframe is counted in.
type ColorClass int

const (
	ColorOff ColorClass = iota
	ColorRed
	ColorGreen
	ColorBlue
	ColorYellow
	ColorWhite
	ColorOther
)

// Class buckets c by which channels are lit, ignoring intensity.
func (c Color) Class() ColorClass {
	r, g, b := c.R != 0, c.G != 0, c.B != 0
	switch {
	case !r && !g && !b:
		return ColorOff
	case r && !g && !b:
		return ColorRed
	case !r && g && !b:
		return ColorGreen
	case !r && !g && b:
		return ColorBlue
	case r && g && !b:
		return ColorYellow
	case r && g && b:
		return ColorWhite
	default:
		return ColorOther
	}
}

// Frame is one keyframe of the animation.
type Frame struct {
	Duration    uint8
	Color       Color
	Interpolate bool
	Vibrate     bool
}

func (f Frame) String() string {
	vib, inter := ' ', ' '
	if f.Vibrate {
		vib = 'v'
	}
	if f.Interpolate {
		inter = 'i'
	}
	return fmt.Sprintf("*(%3d) #%x%x%x %c%c", f.Duration, f.Color.R, f.Color.G, f.Color.B, vib, inter)
}

// Counts tallies the frames of a pattern by color class. BallShake counts
// white frames inside the opening ball-shake window.
type Counts struct {
	Off, NotOff int
	Red         int
	Green       int
	Blue        int
	Yellow      int
	White       int
	Other       int
	BallShake   int
}

// Pattern is a decoded and classified payload.
type Pattern struct {
	Event    Event
	Priority uint8
	Frames   []Frame
	Counts   Counts
	// Duration is the total animation length.
	Duration time.Duration
}

// ballShakeWindow is the last frame index that counts towards the ball-shake
// burst. The catch animation opens with up to three white/off/off triples.
const ballShakeWindow = 3 * 3

// Parse decodes buf without classifying it.
func Parse(buf []byte) (Pattern, error) {
	if len(buf) < framesOffset {
		return Pattern{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(buf), framesOffset)
	}
	header := buf[headerOffset]
	n := int(header & MaxFrames)
	if need := framesOffset + n*frameLen; len(buf) < need {
		return Pattern{}, fmt.Errorf("%w: %d frames need %d bytes, got %d", ErrTruncated, n, need, len(buf))
	}

	p := Pattern{
		Priority: (header >> 5) & 0x7,
		Frames:   make([]Frame, n),
	}
	ticks := 0
	for i := range p.Frames {
		raw := buf[framesOffset+i*frameLen:]
		f := Frame{
			Duration: raw[0],
			Color: Color{
				R: raw[1] & 0xf,
				G: (raw[1] >> 4) & 0xf,
				B: raw[2] & 0xf,
			},
			Interpolate: raw[2]&0x80 != 0,
			Vibrate:     raw[2]&0x70 != 0,
		}
		p.Frames[i] = f
		ticks += int(f.Duration)
		p.Counts.add(i, f.Color.Class())
	}
	p.Duration = time.Duration(ticks) * TickDuration
	return p, nil
}

func (c *Counts) add(index int, class ColorClass) {
	if class == ColorOff {
		c.Off++
		return
	}
	c.NotOff++
	switch class {
	case ColorRed:
		c.Red++
	case ColorGreen:
		c.Green++
	case ColorBlue:
		c.Blue++
	case ColorYellow:
		c.Yellow++
	case ColorWhite:
		c.White++
		if index <= ballShakeWindow {
			c.BallShake++
		}
	default:
		c.Other++
	}
}
