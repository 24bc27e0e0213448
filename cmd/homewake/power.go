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

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
	"github.com/Unbounder1/home-wake/internal/config"
	"github.com/Unbounder1/home-wake/internal/controller"
)

var onCmd = &cobra.Command{
	Use:   "on DEVICE",
	Short: "Wake a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], func(ctx context.Context, c *controller.DeviceController) error {
			return c.TurnOn(ctx)
		})
	},
}

var offCmd = &cobra.Command{
	Use:   "off DEVICE",
	Short: "Shut a device down",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withDevice(cmd.Context(), args[0], func(ctx context.Context, c *controller.DeviceController) error {
			return c.TurnOff(ctx)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [DEVICE...]",
	Short: "Probe devices and print their power state",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		devices, err := config.LoadInventory(settings.DevicesFile)
		if err != nil {
			return err
		}

		registry := newRegistry(settings)
		defer registry.Shutdown()

		var errs error
		if len(args) == 0 {
			errs = registry.Sync(devices)
		} else {
			for _, name := range args {
				cfg, ok := config.FindDevice(devices, name)
				if !ok {
					return fmt.Errorf("device %q is not in %s", name, settings.DevicesFile)
				}
				if _, err := registry.Register(cfg); err != nil {
					return err
				}
			}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		// Registration already started one probe per device.
		names := registry.Names()
		states := make([]homewakev1.DeviceState, len(names))
		for i, name := range names {
			c, _ := registry.Get(name)
			select {
			case <-c.Ready():
			case <-ctx.Done():
				return ctx.Err()
			}
			states[i] = c.State()
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEVICE\tSTATE\tCHECKED")
		for i, name := range names {
			checked := "-"
			if !states[i].LastCheckedAt.IsZero() {
				checked = states[i].LastCheckedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, states[i].Power, checked)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return errs
	},
}

func withDevice(ctx context.Context, name string, fn func(context.Context, *controller.DeviceController) error) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	devices, err := config.LoadInventory(settings.DevicesFile)
	if err != nil {
		return err
	}
	cfg, ok := config.FindDevice(devices, name)
	if !ok {
		return fmt.Errorf("device %q is not in %s", name, settings.DevicesFile)
	}

	registry := newRegistry(settings)
	// Shutdown, not Unregister: the device stays configured and keeps its key.
	defer registry.Shutdown()

	c, err := registry.Register(cfg)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Let the registration probe settle first so it cannot overwrite the
	// state the action sets.
	select {
	case <-c.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := fn(ctx, c); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", name, c.State().Power)
	return nil
}
