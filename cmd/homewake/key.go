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
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage per-device SSH keys",
}

var keyProvisionCmd = &cobra.Command{
	Use:   "provision DEVICE UPLOAD",
	Short: "Validate an uploaded private key and store it for DEVICE",
	Long: `Validate an uploaded private key and store it for DEVICE.

UPLOAD is a key file or an upload staging directory, in which case the
first file in it is used. Relative paths are resolved against keys.upload_root.
The stored path is printed; use it as the device's sshKeyRef.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		ref, err := newProvisioner(settings).Provision(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(ref)
		return nil
	},
}

var keyRevokeCmd = &cobra.Command{
	Use:   "revoke DEVICE",
	Short: "Delete the stored key of DEVICE",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		return newProvisioner(settings).Revoke(args[0])
	},
}

func init() {
	keyCmd.AddCommand(keyProvisionCmd)
	keyCmd.AddCommand(keyRevokeCmd)
}
