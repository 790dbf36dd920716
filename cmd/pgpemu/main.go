package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/pgpemu/internal/ble"
	"github.com/chaz8081/pgpemu/internal/config"
	"github.com/chaz8081/pgpemu/internal/console"
	"github.com/chaz8081/pgpemu/internal/dispatch"
	"github.com/chaz8081/pgpemu/internal/emu"
	"github.com/chaz8081/pgpemu/internal/kv"
	"github.com/chaz8081/pgpemu/internal/persist"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// advertiseInterval is how often advertising is reconciled with the
// connection target.
const advertiseInterval = time.Second

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/pgpemu/config.yaml)")
	initConfig := flag.Bool("init", false, "write the default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	printBanner(cfg)

	if err := run(cfg, level); err != nil {
		log.Fatalf("pgpemu: %v", err)
	}
	log.Println("Goodbye!")
}

func run(cfg *config.Config, level *slog.LevelVar) error {
	store, err := kv.New(kv.Options{
		Path:             cfg.Storage.Path,
		InMemory:         cfg.Storage.InMemory,
		EncryptionSecret: cfg.Storage.EncryptionSecret,
	})
	if err != nil {
		return fmt.Errorf("opening settings store: %w", err)
	}
	defer store.Close()
	storage := persist.New(store)

	global := settings.NewGlobal(cfg.Device.MaxConnections)
	if storage.LoadGlobal(global) {
		restoreLogLevel(level, global.LogLevel())
	}
	log.Printf("Target connections: %d / %d", global.TargetConnections(), global.MaxConnections())

	name := cfg.Device.Name
	if sec, ok := storage.LoadSecrets(); ok {
		name = sec.Name
		log.Printf("Secrets loaded for %s (%s)", sec.Name, sec.MAC)
	} else {
		log.Printf("No secrets stored, advertising as %q", name)
	}

	table := session.NewTable(cfg.Device.MaxConnections)
	periph := ble.NewPeripheral(ble.NewTinyGoStack(), name)
	buttons := dispatch.NewButtonQueue(cfg.Dispatch.QueueSize, table, periph, nil)
	retoggles := dispatch.NewRetoggleQueue(cfg.Dispatch.QueueSize, table, storage)
	emulator := emu.New(table, global, storage, buttons, retoggles, emu.Options{
		ButtonHandle:  ble.ButtonHandle,
		RetoggleDelay: cfg.Dispatch.RetoggleDelay,
		PressDelayMin: cfg.Dispatch.PressDelayMin,
		PressDelayMax: cfg.Dispatch.PressDelayMax,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := periph.Start(ctx, emulator); err != nil {
		return fmt.Errorf("starting BLE peripheral: %w", err)
	}

	in, out, closeConsole, err := openConsole(cfg.Console)
	if err != nil {
		return err
	}
	defer closeConsole()
	con := console.New(table, global, storage, periph, emulator, level, out)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		buttons.Run(ctx)
		return nil
	})
	g.Go(func() error {
		retoggles.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return advertiseLoop(ctx, periph, emulator)
	})
	g.Go(func() error {
		err := con.Run(ctx, in)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	log.Println("Ready! Type ? for console help. Ctrl+C to quit.")
	err = g.Wait()

	log.Println("Shutting down...")
	if aerr := periph.SetAdvertising(false); aerr != nil {
		slog.Warn("[BLE] stop advertising", "error", aerr)
	}
	if !storage.SaveDevices(table.Devices()) {
		slog.Warn("[STORAGE] saving device settings on shutdown failed")
	}
	return err
}

// restoreLogLevel applies the stored log level setting, which takes
// precedence over log_level in the config file. It reports whether the
// level changed.
func restoreLogLevel(level *slog.LevelVar, stored uint8) bool {
	want := config.SlogLevelFor(stored)
	if level.Level() == want {
		return false
	}
	log.Printf("Stored log level %d (%s) overrides config log_level (%s)", stored, want, level.Level())
	level.Set(want)
	return true
}

// advertiseLoop advertises while the connection target is not reached.
func advertiseLoop(ctx context.Context, periph *ble.Peripheral, e *emu.Emulator) error {
	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()
	for {
		if err := periph.SetAdvertising(e.ShouldAdvertise()); err != nil {
			slog.Error("[BLE] advertising update failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// openConsole opens the serial console port, or falls back to stdin/stdout.
func openConsole(cfg config.ConsoleConfig) (io.Reader, io.Writer, func(), error) {
	if cfg.Port == "" {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: cfg.Baud})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening console port %s: %w", cfg.Port, err)
	}
	log.Printf("Console on %s (%d baud)", cfg.Port, cfg.Baud)
	return port, port, func() { port.Close() }, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	storage := cfg.Storage.Path
	if cfg.Storage.InMemory {
		storage = "in-memory"
	}
	input := "stdin"
	if cfg.Console.Port != "" {
		input = cfg.Console.Port
	}
	fmt.Println("=== pgpemu ===")
	fmt.Printf("  Name:     %s\n", cfg.Device.Name)
	fmt.Printf("  Slots:    %d\n", cfg.Device.MaxConnections)
	fmt.Printf("  Storage:  %s (encrypted: %t)\n", storage, cfg.Storage.EncryptionSecret != "")
	fmt.Printf("  Console:  %s\n", input)
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("==============")
}
