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
	"flag"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/Unbounder1/home-wake/internal/config"
)

var (
	// Version is set at build time.
	Version = "dev"

	configFile string
	zapOpts    = zap.Options{Development: true}
	loader     = config.NewLoader()
	setupLog   = ctrl.Log.WithName("setup")
)

var rootCmd = &cobra.Command{
	Use:   "homewake",
	Short: "Monitor and toggle the power state of LAN devices",
	Long: `homewake wakes and shuts down devices on the local network:
  - Windows: Wake-on-LAN to power on, HTTP shutdown endpoint to power off
  - Linux: Wake-on-LAN to power on, "poweroff" over SSH to power off
  - Other (VMs): configured commands over SSH for both directions

Device state is tracked by periodically pinging each device.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	zapOpts.BindFlags(flag.CommandLine)
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "settings file (default: search for homewake.yaml)")
	rootCmd.PersistentFlags().String("devices", "", "device inventory file")
	rootCmd.PersistentFlags().String("keys-dir", "", "directory provisioned SSH keys are stored in")
	rootCmd.PersistentFlags().String("probe-method", "", `reachability probe: "exec" (system ping) or "icmp"`)

	v := loader.Viper()
	_ = v.BindPFlag("devices", rootCmd.PersistentFlags().Lookup("devices"))
	_ = v.BindPFlag("keys.dir", rootCmd.PersistentFlags().Lookup("keys-dir"))
	_ = v.BindPFlag("probe.method", rootCmd.PersistentFlags().Lookup("probe-method"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(keyCmd)
	rootCmd.AddCommand(validateCmd)
}

func loadSettings() (*config.Settings, error) {
	settings, err := loader.Load(configFile)
	if err != nil {
		return nil, err
	}
	if used := loader.ConfigFileUsed(); used != "" {
		setupLog.V(1).Info("settings loaded", "file", used)
	}
	return settings, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
