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

package v1

import (
	"net"
	"strings"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

var supportedDeviceTypes = []string{
	string(DeviceTypeWindows),
	string(DeviceTypeLinux),
	string(DeviceTypeVM),
}

// ConfigValidationError reports every field of a DeviceConfig that violates
// the requirements of its device type.
type ConfigValidationError struct {
	Name   string
	Errors field.ErrorList
}

func (e *ConfigValidationError) Error() string {
	return "invalid device config " + quoteName(e.Name) + ": " + e.Errors.ToAggregate().Error()
}

func quoteName(name string) string {
	if name == "" {
		return `""`
	}
	return `"` + name + `"`
}

// Validate returns a *ConfigValidationError when the config is not usable.
func (c DeviceConfig) Validate() error {
	if errs := ValidateDeviceConfig(c); len(errs) > 0 {
		return &ConfigValidationError{Name: c.Name, Errors: errs}
	}
	return nil
}

// ValidateDeviceConfig checks field presence and shape. Which fields are
// required depends only on DeviceType.
func ValidateDeviceConfig(c DeviceConfig) field.ErrorList {
	var errs field.ErrorList

	errs = append(errs, validateName(c.Name, field.NewPath("name"))...)
	errs = append(errs, validateAddress(c.TargetAddress, field.NewPath("targetAddress"))...)

	portPath := field.NewPath("port")
	for _, msg := range validation.IsValidPortNum(c.Port) {
		errs = append(errs, field.Invalid(portPath, c.Port, msg))
	}

	macPath := field.NewPath("macAddress")
	if c.MACAddress != "" {
		if _, err := net.ParseMAC(c.MACAddress); err != nil {
			errs = append(errs, field.Invalid(macPath, c.MACAddress, "must be a valid MAC address"))
		}
	}

	keyPath := field.NewPath("sshKeyRef")
	onPath := field.NewPath("poweronCommand")
	offPath := field.NewPath("shutdownCommand")

	switch c.DeviceType {
	case DeviceTypeWindows:
		if c.MACAddress == "" {
			errs = append(errs, field.Required(macPath, "required to send a magic packet"))
		}
		if c.SSHKeyRef != "" {
			errs = append(errs, field.Forbidden(keyPath, "windows devices are shut down over HTTP"))
		}
	case DeviceTypeLinux:
		if c.MACAddress == "" {
			errs = append(errs, field.Required(macPath, "required to send a magic packet"))
		}
		if c.SSHKeyRef == "" {
			errs = append(errs, field.Required(keyPath, "required to run poweroff over SSH"))
		}
	case DeviceTypeVM:
		if strings.TrimSpace(c.PowerOnCommand) == "" {
			errs = append(errs, field.Required(onPath, "required for devices of type other"))
		}
		if strings.TrimSpace(c.ShutdownCommand) == "" {
			errs = append(errs, field.Required(offPath, "required for devices of type other"))
		}
	case "":
		errs = append(errs, field.Required(field.NewPath("deviceType"), ""))
	default:
		errs = append(errs, field.NotSupported(field.NewPath("deviceType"), c.DeviceType, supportedDeviceTypes))
	}

	return errs
}

// validateName requires a name that is safe to use as a file name, since
// key material is stored per device name.
func validateName(name string, fldPath *field.Path) field.ErrorList {
	switch {
	case strings.TrimSpace(name) == "":
		return field.ErrorList{field.Required(fldPath, "")}
	case name == "." || name == "..":
		return field.ErrorList{field.Invalid(fldPath, name, "must not be a relative path element")}
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return field.ErrorList{field.Invalid(fldPath, name, "must not contain path separators")}
	}
	return nil
}

func validateAddress(addr string, fldPath *field.Path) field.ErrorList {
	if addr == "" {
		return field.ErrorList{field.Required(fldPath, "")}
	}
	if net.ParseIP(addr) != nil {
		return nil
	}
	var errs field.ErrorList
	for _, msg := range validation.IsDNS1123Subdomain(strings.ToLower(addr)) {
		errs = append(errs, field.Invalid(fldPath, addr, msg))
	}
	return errs
}
