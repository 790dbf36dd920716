package emu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/pgpemu/internal/dispatch"
	"github.com/chaz8081/pgpemu/internal/led"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// OnLEDNotify classifies an LED payload written by the app on id and queues
// the resulting button press or retoggle.
func (e *Emulator) OnLEDNotify(ctx context.Context, id session.ConnID, payload []byte) (led.Pattern, error) {
	rec, ok := e.table.Get(id)
	if !ok {
		return led.Pattern{}, fmt.Errorf("emu: led notify for %d: %w", id, ErrUnknownConnection)
	}

	p, err := led.Classify(payload)
	if err != nil {
		slog.Error("[LED] cannot decode pattern", "conn", id, "len", len(payload), "error", err)
		return led.Pattern{}, fmt.Errorf("emu: led notify for %d: %w", id, err)
	}
	slog.Debug("[LED] pattern", "conn", id, "frames", len(p.Frames), "priority", p.Priority,
		"duration", p.Duration, "event", p.Event)

	dev := rec.Settings()
	press := false

	switch p.Event {
	case led.Off:
		slog.Debug("[LED] turn LEDs off", "conn", id)
	case led.BagFull:
		slog.Warn("[LED] bag is full, suspending autospin", "conn", id)
		err = e.suspend(ctx, rec, dev, settings.AutoSpin)
	case led.PokeballsEmpty:
		slog.Warn("[LED] pokeballs empty or pokestop out of range, suspending autocatch", "conn", id)
		err = e.suspend(ctx, rec, dev, settings.AutoCatch)
	case led.BoxFull:
		slog.Warn("[LED] box is full, suspending autocatch", "conn", id)
		err = e.suspend(ctx, rec, dev, settings.AutoCatch)
	case led.PokemonInRange, led.NewPokemonInRange:
		slog.Info("[LED] pokemon in range", "conn", id, "new", p.Event == led.NewPokemonInRange)
		press = dev.Enabled(settings.AutoCatch)
	case led.PokestopInRange:
		if dev.Enabled(settings.AutoSpin) {
			prob := dev.SpinProbability()
			roll := uint8(e.randN(led.SpinRollMax + 1))
			if led.SkipSpin(prob, roll) {
				slog.Warn("[LED] pokestop in range, skipped", "conn", id, "roll", roll, "probability", prob)
			} else {
				slog.Info("[LED] pokestop in range, pressing button", "conn", id)
				press = true
			}
		}
	case led.CatchSuccess:
		rec.CountCaught()
		slog.Info("[LED] caught pokemon", "conn", id, "shakes", p.Counts.BallShake)
	case led.CatchFled:
		rec.CountFled()
		slog.Warn("[LED] pokemon fled", "conn", id, "shakes", p.Counts.BallShake)
	case led.BallShakeUnrecognized:
		slog.Error("[LED] unknown catch outcome", "conn", id, "shakes", p.Counts.BallShake)
	case led.ItemsReceived:
		rec.CountSpin()
		slog.Info("[LED] got items from pokestop", "conn", id)
	default:
		if dev.Enabled(settings.AutoSpin) || dev.Enabled(settings.AutoCatch) {
			slog.Error("[LED] unhandled color pattern, pressing button anyway", "conn", id)
			press = true
		} else {
			slog.Error("[LED] unhandled color pattern", "conn", id)
		}
	}

	if press {
		if perr := e.press(ctx, id, p.Duration); perr != nil {
			err = perr
		}
	}
	return p, err
}

// pressDelay picks a delay in [PressDelayMin, PressDelayMax] at millisecond
// resolution.
func (e *Emulator) pressDelay() time.Duration {
	span := int((e.opts.PressDelayMax - e.opts.PressDelayMin) / time.Millisecond)
	return e.opts.PressDelayMin + time.Duration(e.randN(span+1))*time.Millisecond
}

// press queues a button press if it lands before the animation ends.
func (e *Emulator) press(ctx context.Context, id session.ConnID, animation time.Duration) error {
	delay := e.pressDelay()
	if delay >= animation {
		slog.Debug("[LED] animation too short for a press", "conn", id, "delay", delay, "animation", animation)
		return nil
	}
	slog.Debug("[LED] queueing button press", "conn", id, "delay", delay)
	err := e.buttons.Push(ctx, dispatch.ButtonItem{
		ConnID: id,
		Handle: e.opts.ButtonHandle,
		Delay:  delay,
	})
	if err != nil {
		return fmt.Errorf("emu: queue press for %d: %w", id, err)
	}
	return nil
}

// suspend turns s off on dev and queues it to come back after the retoggle
// delay. The setting is committed off before the item is queued.
func (e *Emulator) suspend(ctx context.Context, rec *session.Record, dev *settings.Device, s settings.Setting) error {
	if dev == nil {
		slog.Debug("[LED] no device settings yet, not suspending", "conn", rec.ConnID(), "setting", s)
		return nil
	}
	addr := dev.Address()
	if !dev.Suspend(s, e.opts.Now().Add(e.opts.RetoggleDelay)) {
		slog.Debug("[LED] setting already off or pending", "conn", rec.ConnID(), "setting", s)
		return nil
	}
	slog.Debug("[LED] queueing retoggle", "conn", rec.ConnID(), "addr", addr, "setting", s, "delay", e.opts.RetoggleDelay)
	err := e.retoggles.Push(ctx, dispatch.RetoggleItem{
		Addr:    addr,
		Setting: s,
		Delay:   e.opts.RetoggleDelay,
	})
	if err != nil {
		return fmt.Errorf("emu: queue retoggle for %d: %w", rec.ConnID(), err)
	}
	return nil
}
