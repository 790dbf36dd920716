// Package ble exposes the emulated accessory as a BLE GATT peripheral and
// feeds connection and LED events into the emulator.
package ble

// Accessory GATT UUIDs.
const (
	ServiceUUID    = "21c50462-67cb-63a3-5c4c-82b5b9939aeb"
	LEDCharUUID    = "21c50462-67cb-63a3-5c4c-82b5b9939aec"
	ButtonCharUUID = "21c50462-67cb-63a3-5c4c-82b5b9939aed"
)

// Characteristic handles inside the accessory service, in registration
// order.
const (
	LEDHandle    uint16 = 0
	ButtonHandle uint16 = 1
)

// Characteristic is a local GATT characteristic.
type Characteristic interface {
	// Write updates the value and notifies subscribed centrals.
	Write(data []byte) error
}

// Peer is a connected central.
type Peer interface {
	// Address is the stack's identifier for the central: a MAC address on
	// Linux, a CoreBluetooth UUID on macOS.
	Address() string
	// Disconnect drops the connection.
	Disconnect() error
}

// CharSpec describes a characteristic to register.
type CharSpec struct {
	UUID   string
	Read   bool
	Write  bool
	Notify bool
	// OnWrite is called for writes from a central. peer is empty when the
	// stack cannot tell which central wrote.
	OnWrite func(peer string, value []byte)
}

// ServiceSpec describes a primary service to register.
type ServiceSpec struct {
	UUID            string
	Characteristics []CharSpec
}

// Stack abstracts the peripheral side of the BLE adapter for testing.
type Stack interface {
	// Enable powers on the adapter.
	Enable() error
	// SetConnectHandler registers the callback for connects and disconnects.
	SetConnectHandler(cb func(peer Peer, connected bool))
	// AddService registers svc and returns its characteristics in order.
	AddService(svc ServiceSpec) ([]Characteristic, error)
	// StartAdvertising advertises name and the given service UUIDs.
	StartAdvertising(name string, serviceUUIDs ...string) error
	// StopAdvertising stops advertising.
	StopAdvertising() error
}
