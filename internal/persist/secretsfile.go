package persist

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/crc32"

	"gopkg.in/yaml.v3"
)

// secretsFile is the YAML layout of an exported secrets file. Binary fields
// are hex or base64.
type secretsFile struct {
	Devices []struct {
		Name string `yaml:"name"`
		MAC  string `yaml:"mac"`
		Key  string `yaml:"key"`
		Blob string `yaml:"blob"`
	} `yaml:"devices"`
}

// ParseSecretsFile decodes every device of a secrets YAML file.
func ParseSecretsFile(data []byte) ([]Secrets, error) {
	var f secretsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("persist: parse secrets file: %w", err)
	}

	out := make([]Secrets, 0, len(f.Devices))
	for i, d := range f.Devices {
		var sec Secrets
		sec.Name = d.Name

		mac, err := decodeField(d.MAC, len(sec.MAC), "mac")
		if err != nil {
			return nil, fmt.Errorf("persist: device %d: %w", i, err)
		}
		key, err := decodeField(d.Key, DeviceKeyLen, "key")
		if err != nil {
			return nil, fmt.Errorf("persist: device %d: %w", i, err)
		}
		blob, err := decodeField(d.Blob, BlobLen, "blob")
		if err != nil {
			return nil, fmt.Errorf("persist: device %d: %w", i, err)
		}
		copy(sec.MAC[:], mac)
		copy(sec.DeviceKey[:], key)
		copy(sec.Blob[:], blob)

		if err := sec.Validate(); err != nil {
			return nil, fmt.Errorf("persist: device %d: %w", i, err)
		}
		out = append(out, sec)
	}
	return out, nil
}

// decodeField decodes s as hex, then as base64, and checks its length.
func decodeField(s string, want int, field string) ([]byte, error) {
	if b, err := hex.DecodeString(s); err == nil && len(b) == want {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s is neither hex nor base64", field)
	}
	if len(b) != want {
		return nil, fmt.Errorf("%s is %d bytes, want %d", field, len(b), want)
	}
	return b, nil
}

// Checksum is the CRC-32 (IEEE) of MAC, device key and blob, for comparing
// stored secrets with their source file.
func (s Secrets) Checksum() uint32 {
	buf := make([]byte, 0, len(s.MAC)+DeviceKeyLen+BlobLen)
	buf = append(buf, s.MAC[:]...)
	buf = append(buf, s.DeviceKey[:]...)
	buf = append(buf, s.Blob[:]...)
	return crc32.ChecksumIEEE(buf)
}
