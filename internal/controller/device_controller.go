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
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
	"github.com/Unbounder1/home-wake/internal/power"
)

// ErrControllerClosed is returned by operations on an unregistered device.
var ErrControllerClosed = errors.New("device controller is closed")

// DeviceController owns one device: its config, the adapters bound to it,
// and its observed state.
//
// Poll, TurnOn and TurnOff are serialized per device. Power transitions are
// optimistic: a successful wake or shutdown request sets the state without
// waiting for the device to actually change, because none of the protocols
// acknowledge the transition. The next Poll corrects it.
type DeviceController struct {
	cfg    homewakev1.DeviceConfig
	plan   *power.Plan
	pinger power.Pinger
	pool   *semaphore.Weighted
	log    logr.Logger

	probeTimeout  time.Duration
	actionTimeout time.Duration

	// ctx lives as long as the controller; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  chan struct{}

	opMu   sync.Mutex
	closed bool

	stateMu sync.RWMutex
	state   homewakev1.DeviceState
}

func newDeviceController(cfg homewakev1.DeviceConfig, plan *power.Plan, opts *Options, pool *semaphore.Weighted) *DeviceController {
	ctx, cancel := context.WithCancel(context.Background())
	c := &DeviceController{
		cfg:           cfg,
		plan:          plan,
		pinger:        opts.Pinger,
		pool:          pool,
		log:           opts.Log.WithName("device").WithValues("device", cfg.Name, "type", cfg.DeviceType),
		probeTimeout:  opts.ProbeTimeout,
		actionTimeout: opts.ActionTimeout,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan struct{}),
		state:         homewakev1.DeviceState{Power: homewakev1.PowerStateUnknown},
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.ready)
		c.Poll(ctx)
	}()

	return c
}

// Config returns a copy of the device's configuration.
func (c *DeviceController) Config() homewakev1.DeviceConfig {
	return c.cfg
}

// Ready is closed once the initial poll started at creation has finished,
// or was abandoned because the controller was closed.
func (c *DeviceController) Ready() <-chan struct{} {
	return c.ready
}

// State returns a snapshot of the observed state.
func (c *DeviceController) State() homewakev1.DeviceState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// Poll probes the device and records whether it answered. Probe failures
// are recorded as Off; a poll interrupted by Close leaves the state alone.
func (c *DeviceController) Poll(ctx context.Context) homewakev1.DeviceState {
	opCtx, done, err := c.begin(ctx, c.probeTimeout)
	if err != nil {
		if !errors.Is(err, ErrControllerClosed) {
			c.log.V(1).Info("poll skipped", "reason", err.Error())
		}
		return c.State()
	}
	defer done()

	start := time.Now()
	reachable, err := c.pinger.IsReachable(opCtx, c.cfg.TargetAddress)
	probeDuration.Observe(time.Since(start).Seconds())

	if c.ctx.Err() != nil {
		return c.State()
	}
	if err != nil {
		c.log.Error(err, "reachability probe failed")
		reachable = false
	}

	c.stateMu.Lock()
	previous := c.state.Power
	c.state.Reachable = reachable
	c.state.Power = powerFor(reachable)
	c.state.LastCheckedAt = metav1.Now()
	state := c.state
	c.stateMu.Unlock()

	deviceReachable.WithLabelValues(c.cfg.Name).Set(boolToFloat(reachable))
	if previous != state.Power {
		c.log.Info("power state changed", "from", previous, "to", state.Power)
	}
	return state
}

// TurnOn wakes the device and marks it On once the request was sent.
func (c *DeviceController) TurnOn(ctx context.Context) error {
	return c.act(ctx, power.ActionTurnOn)
}

// TurnOff shuts the device down and marks it Off once the request was sent.
func (c *DeviceController) TurnOff(ctx context.Context) error {
	return c.act(ctx, power.ActionTurnOff)
}

func (c *DeviceController) act(ctx context.Context, action power.Action) error {
	adapter, err := c.plan.For(action)
	if err != nil {
		return err
	}

	opCtx, done, err := c.begin(ctx, c.actionTimeout)
	if err != nil {
		return err
	}
	defer done()

	log := c.log.WithValues("action", action, "adapter", adapter.Kind())
	log.Info("executing power action")

	if err := adapter.Execute(opCtx, c.cfg); err != nil {
		powerActionsTotal.WithLabelValues(string(action), "failure").Inc()
		c.stateMu.Lock()
		c.state.LastError = err.Error()
		c.stateMu.Unlock()
		log.Error(err, "power action failed")
		return err
	}
	powerActionsTotal.WithLabelValues(string(action), "success").Inc()

	on := action == power.ActionTurnOn
	c.stateMu.Lock()
	c.state.Power = powerFor(on)
	c.state.Reachable = on
	c.state.LastError = ""
	c.stateMu.Unlock()

	log.Info("power action sent", "state", powerFor(on))
	return nil
}

// begin serializes an operation on this device and bounds it by timeout,
// by the caller's context and by the controller's lifetime. The returned
// func must be called when the operation is finished.
func (c *DeviceController) begin(ctx context.Context, timeout time.Duration) (context.Context, func(), error) {
	c.opMu.Lock()
	if c.closed {
		c.opMu.Unlock()
		return nil, nil, ErrControllerClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	stop := context.AfterFunc(c.ctx, cancel)

	if err := c.pool.Acquire(opCtx, 1); err != nil {
		stop()
		cancel()
		c.opMu.Unlock()
		return nil, nil, err
	}

	return opCtx, func() {
		c.pool.Release(1)
		stop()
		cancel()
		c.opMu.Unlock()
	}, nil
}

// Close cancels whatever the controller is doing, waits for it to return
// and rejects later operations. It is safe to call more than once.
func (c *DeviceController) Close() {
	c.shutdown(true)
}

// shutdown closes the controller. The reachability series is kept when a
// replacement controller for the same device already reports it.
func (c *DeviceController) shutdown(dropMetrics bool) {
	c.cancel()

	c.opMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.opMu.Unlock()

	c.wg.Wait()
	if alreadyClosed {
		return
	}
	if dropMetrics {
		deviceReachable.DeleteLabelValues(c.cfg.Name)
	}
	c.log.V(1).Info("controller closed")
}

func powerFor(on bool) homewakev1.PowerState {
	if on {
		return homewakev1.PowerStateOn
	}
	return homewakev1.PowerStateOff
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
