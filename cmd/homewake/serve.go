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
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/Unbounder1/home-wake/internal/config"
)

var (
	metricsAddr string
	watchFile   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Register every device in the inventory and keep polling it",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		devices, err := config.LoadInventory(settings.DevicesFile)
		if err != nil {
			return err
		}

		ctx := ctrl.SetupSignalHandler()
		registry := newRegistry(settings)

		// Invalid devices are reported and skipped; the rest are served.
		if err := registry.Sync(devices); err != nil {
			setupLog.Error(err, "some devices could not be registered")
		}
		setupLog.Info("devices registered", "count", len(registry.Names()))

		if metricsAddr != "" && metricsAddr != "0" {
			go serveMetrics(ctx, metricsAddr)
		}

		if watchFile {
			go func() {
				if err := config.WatchInventory(ctx, settings.DevicesFile, ctrl.Log.WithName("inventory"), registry.Sync); err != nil {
					setupLog.Error(err, "inventory watcher stopped")
				}
			}()
		}

		return registry.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-bind-address", "0",
		`address the metrics endpoint binds to, "0" disables it`)
	serveCmd.Flags().BoolVar(&watchFile, "watch", true, "reload the inventory when it changes")
}

func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	setupLog.Info("serving metrics", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		setupLog.Error(err, "metrics server failed")
	}
}
