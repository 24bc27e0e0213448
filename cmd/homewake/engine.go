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
	"net/http"

	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/Unbounder1/home-wake/internal/config"
	"github.com/Unbounder1/home-wake/internal/controller"
	"github.com/Unbounder1/home-wake/internal/keys"
	"github.com/Unbounder1/home-wake/internal/power"
)

func newProvisioner(s *config.Settings) *keys.Provisioner {
	return keys.NewProvisioner(s.KeysDir, s.UploadRoot, ctrl.Log.WithName("keys"))
}

func newPinger(s *config.Settings) power.Pinger {
	if s.ProbeMethod == config.ProbeMethodICMP {
		return &power.ICMPPinger{Timeout: s.ProbeTimeout}
	}
	return &power.ExecPinger{Timeout: s.ProbeTimeout}
}

func newRegistry(s *config.Settings) *controller.Registry {
	protocols := &power.Protocols{
		Wol:          &power.RealWolSender{},
		SSH:          &power.RealSSHClient{Timeout: s.ActionTimeout},
		HTTP:         &http.Client{Timeout: s.ActionTimeout},
		SSHUser:      s.SSHUser,
		WolBroadcast: s.WolBroadcast,
		WolPort:      s.WolPort,
		StrictHTTP:   s.StrictHTTP,
		Log:          ctrl.Log.WithName("power"),
	}

	return controller.NewRegistry(controller.Options{
		Pinger:        newPinger(s),
		Protocols:     protocols,
		Keys:          newProvisioner(s),
		ProbeTimeout:  s.ProbeTimeout,
		ActionTimeout: s.ActionTimeout,
		PollInterval:  s.PollInterval,
		Workers:       s.Workers,
		Log:           ctrl.Log,
	})
}
