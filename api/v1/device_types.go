/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package v1 holds the device configuration and observed state types shared
// by the power engine and its presentation layers.
package v1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeviceType selects which wake and shutdown protocols a device uses.
type DeviceType string

const (
	DeviceTypeWindows DeviceType = "windows"
	DeviceTypeLinux   DeviceType = "linux"
	// DeviceTypeVM covers virtual machines and anything else driven purely
	// by remote commands.
	DeviceTypeVM DeviceType = "other"
)

const (
	DefaultWindowsPort = 8000
	DefaultSSHPort     = 22
)

// DeviceConfig describes one managed device. It is treated as a value:
// edits replace the whole record.
type DeviceConfig struct {
	Name          string     `json:"name" yaml:"name"`
	DeviceType    DeviceType `json:"deviceType" yaml:"deviceType"`
	TargetAddress string     `json:"targetAddress" yaml:"targetAddress"`

	// Required unless DeviceType is other.
	MACAddress string `json:"macAddress,omitempty" yaml:"macAddress,omitempty"`

	// Defaults to 8000 for windows and 22 otherwise.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// SSHKeyRef points at key material produced by the key provisioner.
	// Required for linux, optional for other, not allowed for windows.
	SSHKeyRef string `json:"sshKeyRef,omitempty" yaml:"sshKeyRef,omitempty"`

	PowerOnCommand  string `json:"poweronCommand,omitempty" yaml:"poweronCommand,omitempty"`
	ShutdownCommand string `json:"shutdownCommand,omitempty" yaml:"shutdownCommand,omitempty"`
}

// Default fills in the per-type port when none was given.
func (c *DeviceConfig) Default() {
	if c.Port != 0 {
		return
	}
	switch c.DeviceType {
	case DeviceTypeWindows:
		c.Port = DefaultWindowsPort
	case DeviceTypeLinux, DeviceTypeVM:
		c.Port = DefaultSSHPort
	}
}

type PowerState string

const (
	PowerStateUnknown PowerState = "unknown"
	PowerStateOn      PowerState = "on"
	PowerStateOff     PowerState = "off"
)

// DeviceState is the observed state of a device.
type DeviceState struct {
	Power     PowerState `json:"power"`
	Reachable bool       `json:"reachable"`

	// Zero until the first probe completes.
	// +optional
	LastCheckedAt metav1.Time `json:"lastCheckedAt,omitempty"`

	// +optional
	LastError string `json:"lastError,omitempty"`
}
