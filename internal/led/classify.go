package led

// Event is the meaning of an LED pattern.
type Event int

const (
	Unrecognized Event = iota
	Off
	BagFull
	// PokeballsEmpty also covers a Pokéstop going out of range; both blink red.
	PokeballsEmpty
	BoxFull
	PokemonInRange
	NewPokemonInRange
	PokestopInRange
	CatchSuccess
	CatchFled
	BallShakeUnrecognized
	ItemsReceived
)

var eventNames = map[Event]string{
	Unrecognized:          "unrecognized",
	Off:                   "off",
	BagFull:               "bag-full",
	PokeballsEmpty:        "pokeballs-empty",
	BoxFull:               "box-full",
	PokemonInRange:        "pokemon-in-range",
	NewPokemonInRange:     "new-pokemon-in-range",
	PokestopInRange:       "pokestop-in-range",
	CatchSuccess:          "catch-success",
	CatchFled:             "catch-fled",
	BallShakeUnrecognized: "unrecognized-ballshake",
	ItemsReceived:         "items-received",
}

func (e Event) String() string {
	if s, ok := eventNames[e]; ok {
		return s
	}
	return "unknown"
}

// Classify decodes buf and determines its event.
func Classify(buf []byte) (Pattern, error) {
	p, err := Parse(buf)
	if err != nil {
		return Pattern{}, err
	}
	p.Event = p.Counts.Event()
	return p, nil
}

// Event applies the classification rules in order; the first match wins.
func (c Counts) Event() Event {
	switch {
	case c.NotOff == 0:
		// includes patterns without any frame
		return Off
	case c.White > 0 && c.White == c.NotOff:
		return BagFull
	case c.Red > 0 && c.Off > 0 && c.Red == c.NotOff:
		return PokeballsEmpty
	case c.Red > 0 && c.Off == 0 && c.Red == c.NotOff:
		return BoxFull
	case c.Green > 0 && c.Green == c.NotOff:
		return PokemonInRange
	case c.Yellow > 0 && c.Yellow == c.NotOff:
		return NewPokemonInRange
	case c.Blue > 0 && c.Blue == c.NotOff:
		return PokestopInRange
	case c.BallShake > 0:
		switch {
		case c.Blue > 0 && c.Green > 0:
			return CatchSuccess
		case c.Red > 0:
			return CatchFled
		default:
			return BallShakeUnrecognized
		}
	case c.Red > 0 && c.Green > 0 && c.Blue > 0 && c.Off == 0:
		return ItemsReceived
	default:
		return Unrecognized
	}
}

// SpinRollMax is the largest value of the roll passed to SkipSpin.
const SpinRollMax = 9

// SkipSpin decides whether a Pokéstop in range is ignored. probability 0
// always spins; otherwise a roll in [0, SpinRollMax] at or above probability
// skips the spin.
func SkipSpin(probability, roll uint8) bool {
	return probability > 0 && roll >= probability
}
