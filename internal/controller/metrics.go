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

package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	powerActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "homewake_power_actions_total",
			Help: "Power actions executed, by action and result.",
		},
		[]string{"action", "result"},
	)

	deviceReachable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "homewake_device_reachable",
			Help: "1 if the last probe of the device got a reply.",
		},
		[]string{"device"},
	)

	probeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "homewake_probe_duration_seconds",
			Help:    "Time spent probing device reachability.",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2, 5},
		},
	)
)

func init() {
	metrics.Registry.MustRegister(powerActionsTotal, deviceReachable, probeDuration)
}
