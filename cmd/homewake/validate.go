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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Unbounder1/home-wake/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the settings and every device in the inventory",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		devices, err := config.LoadInventory(settings.DevicesFile)
		if err != nil {
			return err
		}

		invalid := 0
		for _, d := range devices {
			d.Default()
			if err := d.Validate(); err != nil {
				invalid++
				fmt.Println(err)
				continue
			}
			fmt.Printf("%s: ok (%s, %s:%d)\n", d.Name, d.DeviceType, d.TargetAddress, d.Port)
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d devices are invalid", invalid, len(devices))
		}
		return nil
	},
}
