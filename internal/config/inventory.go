package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
)

// Inventory is the on-disk list of managed devices.
type Inventory struct {
	Devices []homewakev1.DeviceConfig `yaml:"devices"`
}

// LoadInventory reads the device inventory at path. Records are decoded
// but not validated; the registry rejects invalid ones.
func LoadInventory(path string) ([]homewakev1.DeviceConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer f.Close()

	devices, err := ParseInventory(f)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return devices, nil
}

// ParseInventory decodes an inventory document. Unknown keys are rejected
// so that typos do not silently drop required fields.
func ParseInventory(r io.Reader) ([]homewakev1.DeviceConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var inv Inventory
	if err := dec.Decode(&inv); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return inv.Devices, nil
}

// FindDevice returns the named device from devices.
func FindDevice(devices []homewakev1.DeviceConfig, name string) (homewakev1.DeviceConfig, bool) {
	for _, d := range devices {
		if d.Name == name {
			return d, true
		}
	}
	return homewakev1.DeviceConfig{}, false
}
