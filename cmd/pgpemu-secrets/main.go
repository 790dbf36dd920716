// Command pgpemu-secrets imports an accessory identity from a secrets YAML
// file into the emulator's settings store, or shows and clears the stored
// one.
//
// Usage:
//
//	go run ./cmd/pgpemu-secrets -file secrets.yaml [-index 0] [-config path]
//	go run ./cmd/pgpemu-secrets -show
//	go run ./cmd/pgpemu-secrets -reset
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/chaz8081/pgpemu/internal/config"
	"github.com/chaz8081/pgpemu/internal/kv"
	"github.com/chaz8081/pgpemu/internal/persist"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/pgpemu/config.yaml)")
	file := flag.String("file", "", "secrets YAML file to import")
	index := flag.Int("index", 0, "device entry to import from the file")
	show := flag.Bool("show", false, "show the stored secrets")
	reset := flag.Bool("reset", false, "erase the stored secrets")
	flag.Parse()

	if *file == "" && !*show && !*reset {
		fmt.Printf("Usage: %s -file secrets.yaml [-index 0] | -show | -reset\n", os.Args[0])
		os.Exit(1)
	}

	cfg := config.Default()
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	if cfg.Storage.InMemory {
		log.Fatal("storage.in_memory is set; nothing to import into")
	}

	store, err := kv.New(kv.Options{
		Path:             cfg.Storage.Path,
		EncryptionSecret: cfg.Storage.EncryptionSecret,
	})
	if err != nil {
		log.Fatalf("Failed to open settings store: %v", err)
	}
	defer store.Close()
	storage := persist.New(store)

	switch {
	case *reset:
		if !storage.ResetSecrets() {
			log.Fatal("Failed to clear secrets")
		}
		fmt.Println("Secrets cleared")
	case *show:
		sec, ok := storage.LoadSecrets()
		if !ok {
			fmt.Println("No secrets stored")
			return
		}
		printSecrets(sec)
	default:
		if err := importFile(storage, *file, *index); err != nil {
			log.Fatal(err)
		}
	}
}

func importFile(storage *persist.Storage, path string, index int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading secrets file: %w", err)
	}
	devices, err := persist.ParseSecretsFile(data)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(devices) {
		return fmt.Errorf("index %d out of range, file has %d devices", index, len(devices))
	}

	sec := devices[index]
	if !storage.SaveSecrets(sec) {
		return fmt.Errorf("storing secrets for %s failed", sec.Name)
	}

	stored, ok := storage.LoadSecrets()
	if !ok || stored.Checksum() != sec.Checksum() {
		return fmt.Errorf("readback mismatch: wanted crc %08x", sec.Checksum())
	}
	fmt.Printf("Imported %s, readback OK\n", sec.Name)
	printSecrets(stored)
	return nil
}

func printSecrets(sec persist.Secrets) {
	fmt.Printf("  Name: %s\n", sec.Name)
	fmt.Printf("  MAC:  %s\n", sec.MAC)
	fmt.Printf("  CRC:  %08x\n", sec.Checksum())
}
