package ble

import (
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoStack implements Stack on tinygo-org/bluetooth (BlueZ on Linux,
// CoreBluetooth on macOS).
type TinyGoStack struct {
	adapter *bluetooth.Adapter

	mu  sync.Mutex
	adv *bluetooth.Advertisement
}

// NewTinyGoStack creates a Stack on the default adapter.
func NewTinyGoStack() *TinyGoStack {
	return &TinyGoStack{adapter: bluetooth.DefaultAdapter}
}

func (s *TinyGoStack) Enable() error {
	if err := s.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	return nil
}

func (s *TinyGoStack) SetConnectHandler(cb func(peer Peer, connected bool)) {
	s.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		cb(tinyGoPeer{device: device}, connected)
	})
}

func (s *TinyGoStack) AddService(svc ServiceSpec) ([]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(svc.UUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	handles := make([]bluetooth.Characteristic, len(svc.Characteristics))
	configs := make([]bluetooth.CharacteristicConfig, len(svc.Characteristics))
	for i, spec := range svc.Characteristics {
		charUUID, err := bluetooth.ParseUUID(spec.UUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse characteristic UUID %s: %w", spec.UUID, err)
		}
		var flags bluetooth.CharacteristicPermissions
		if spec.Read {
			flags |= bluetooth.CharacteristicReadPermission
		}
		if spec.Write {
			flags |= bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission
		}
		if spec.Notify {
			flags |= bluetooth.CharacteristicNotifyPermission
		}
		configs[i] = bluetooth.CharacteristicConfig{
			Handle: &handles[i],
			UUID:   charUUID,
			Flags:  flags,
		}
		if onWrite := spec.OnWrite; onWrite != nil {
			// BlueZ does not report which central wrote.
			configs[i].WriteEvent = func(_ bluetooth.Connection, _ int, value []byte) {
				onWrite("", value)
			}
		}
	}

	err = s.adapter.AddService(&bluetooth.Service{
		UUID:            svcUUID,
		Characteristics: configs,
	})
	if err != nil {
		return nil, fmt.Errorf("ble: add service: %w", err)
	}

	chars := make([]Characteristic, len(handles))
	for i := range handles {
		chars[i] = tinyGoCharacteristic{char: &handles[i]}
	}
	return chars, nil
}

func (s *TinyGoStack) StartAdvertising(name string, serviceUUIDs ...string) error {
	uuids := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, u := range serviceUUIDs {
		parsed, err := bluetooth.ParseUUID(u)
		if err != nil {
			return fmt.Errorf("ble: parse advertised UUID: %w", err)
		}
		uuids = append(uuids, parsed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	adv := s.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    name,
		ServiceUUIDs: uuids,
	}); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	s.adv = adv
	return nil
}

func (s *TinyGoStack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adv == nil {
		return nil
	}
	if err := s.adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	s.adv = nil
	return nil
}

// Compile-time check that TinyGoStack implements Stack.
var _ Stack = (*TinyGoStack)(nil)

type tinyGoPeer struct {
	device bluetooth.Device
}

func (p tinyGoPeer) Address() string {
	return p.device.Address.String()
}

func (p tinyGoPeer) Disconnect() error {
	return p.device.Disconnect()
}

type tinyGoCharacteristic struct {
	char *bluetooth.Characteristic
}

func (c tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.Write(data)
	return err
}
