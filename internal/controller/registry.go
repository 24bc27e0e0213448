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
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
	"github.com/Unbounder1/home-wake/internal/power"
)

const (
	DefaultActionTimeout = 10 * time.Second
	DefaultPollInterval  = 30 * time.Second
	DefaultWorkers       = 4
)

var (
	ErrNotFound          = errors.New("device not registered")
	ErrAlreadyRegistered = errors.New("device already registered")
)

// KeyStore is the part of the key provisioner the registry needs to release
// key material when a device goes away.
type KeyStore interface {
	Owns(deviceName, ref string) bool
	Revoke(deviceName string) error
}

// Options configures a Registry and the controllers it creates.
type Options struct {
	Pinger    power.Pinger
	Protocols *power.Protocols
	// Keys may be nil, in which case key material is never deleted.
	Keys KeyStore

	ProbeTimeout  time.Duration
	ActionTimeout time.Duration
	PollInterval  time.Duration
	// Workers bounds both the poll workers and the number of blocking
	// network operations in flight across all devices.
	Workers int

	Log logr.Logger
}

func (o *Options) setDefaults() {
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = power.DefaultProbeTimeout
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = DefaultActionTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
}

// Registry maps device names to their controllers. It is created once per
// process; controllers are added and removed as device configs change.
type Registry struct {
	opts Options
	pool *semaphore.Weighted
	log  logr.Logger

	queue workqueue.TypedDelayingInterface[string]

	mu          sync.Mutex
	controllers map[string]*DeviceController
}

func NewRegistry(opts Options) *Registry {
	opts.setDefaults()
	return &Registry{
		opts: opts,
		pool: semaphore.NewWeighted(int64(opts.Workers)),
		log:  opts.Log.WithName("registry"),
		queue: workqueue.NewTypedDelayingQueueWithConfig(workqueue.TypedDelayingQueueConfig[string]{
			Name: "homewake_poll",
		}),
		controllers: make(map[string]*DeviceController),
	}
}

// Register validates cfg and starts a controller for it.
func (r *Registry) Register(cfg homewakev1.DeviceConfig) (*DeviceController, error) {
	cfg, plan, err := r.prepare(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, ok := r.controllers[cfg.Name]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, cfg.Name)
	}
	c := newDeviceController(cfg, plan, &r.opts, r.pool)
	r.controllers[cfg.Name] = c
	r.mu.Unlock()

	r.queue.AddAfter(cfg.Name, r.opts.PollInterval)
	r.log.Info("device registered", "device", cfg.Name, "type", cfg.DeviceType, "address", cfg.TargetAddress)
	return c, nil
}

// Replace swaps the config of a registered device, or registers it if it
// is unknown. The previous key is revoked only if nothing references it
// any more.
func (r *Registry) Replace(cfg homewakev1.DeviceConfig) (*DeviceController, error) {
	cfg, plan, err := r.prepare(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old, existed := r.controllers[cfg.Name]
	c := newDeviceController(cfg, plan, &r.opts, r.pool)
	r.controllers[cfg.Name] = c
	revoke := existed && r.keyReleasableLocked(old.cfg)
	r.mu.Unlock()

	r.queue.AddAfter(cfg.Name, r.opts.PollInterval)
	if !existed {
		r.log.Info("device registered", "device", cfg.Name, "type", cfg.DeviceType, "address", cfg.TargetAddress)
		return c, nil
	}

	old.shutdown(false)
	r.log.Info("device replaced", "device", cfg.Name)
	if revoke {
		if err := r.opts.Keys.Revoke(cfg.Name); err != nil {
			return c, fmt.Errorf("release previous key of %s: %w", cfg.Name, err)
		}
	}
	return c, nil
}

// Unregister stops the device's controller, waiting for any in-flight probe
// or power action to be cancelled, then releases the device's key if the
// device owned it exclusively.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	c, ok := r.controllers[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.controllers, name)
	revoke := r.keyReleasableLocked(c.cfg)
	r.mu.Unlock()

	c.Close()
	r.log.Info("device unregistered", "device", name)

	if revoke {
		if err := r.opts.Keys.Revoke(name); err != nil {
			return fmt.Errorf("release key of %s: %w", name, err)
		}
	}
	return nil
}

// Sync makes the registry match cfgs: missing devices are registered,
// changed ones replaced and absent ones unregistered. A failing device does
// not stop the others; all failures are returned together.
func (r *Registry) Sync(cfgs []homewakev1.DeviceConfig) error {
	var errs []error

	desired := make(map[string]homewakev1.DeviceConfig, len(cfgs))
	for _, cfg := range cfgs {
		cfg.Default()
		if _, dup := desired[cfg.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: %s listed twice", ErrAlreadyRegistered, cfg.Name))
			continue
		}
		desired[cfg.Name] = cfg
	}

	for _, name := range r.Names() {
		if _, keep := desired[name]; keep {
			continue
		}
		if err := r.Unregister(name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := desired[name]
		if existing, ok := r.Get(name); ok {
			if existing.Config() == cfg {
				continue
			}
			if _, err := r.Replace(cfg); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if _, err := r.Register(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (r *Registry) Get(name string) (*DeviceController, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[name]
	return c, ok
}

// Names returns the registered device names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

// States returns a snapshot of every device's observed state.
func (r *Registry) States() map[string]homewakev1.DeviceState {
	r.mu.Lock()
	controllers := make([]*DeviceController, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.Unlock()

	states := make(map[string]homewakev1.DeviceState, len(controllers))
	for _, c := range controllers {
		states[c.cfg.Name] = c.State()
	}
	return states
}

// Start polls every registered device each PollInterval until ctx is done,
// then closes all controllers.
func (r *Registry) Start(ctx context.Context) error {
	r.log.Info("starting poll workers", "workers", r.opts.Workers, "interval", r.opts.PollInterval)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wait.UntilWithContext(ctx, r.worker, time.Second)
		}()
	}

	<-ctx.Done()
	r.log.Info("stopping poll workers")
	r.queue.ShutDown()
	wg.Wait()
	r.Shutdown()
	return nil
}

// Shutdown stops poll scheduling and closes every controller without
// touching key material; the devices remain configured.
func (r *Registry) Shutdown() {
	r.queue.ShutDown()

	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*DeviceController)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range controllers {
		wg.Add(1)
		go func(c *DeviceController) {
			defer wg.Done()
			c.Close()
		}(c)
	}
	wg.Wait()
}

func (r *Registry) worker(ctx context.Context) {
	for r.processNextItem(ctx) {
	}
}

func (r *Registry) processNextItem(ctx context.Context) bool {
	name, shutdown := r.queue.Get()
	if shutdown {
		return false
	}
	defer r.queue.Done(name)

	c, ok := r.Get(name)
	if !ok {
		// Unregistered since it was queued.
		return true
	}
	c.Poll(ctx)
	r.queue.AddAfter(name, r.opts.PollInterval)
	return true
}

func (r *Registry) prepare(cfg homewakev1.DeviceConfig) (homewakev1.DeviceConfig, *power.Plan, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return cfg, nil, err
	}
	plan, err := r.opts.Protocols.Plan(cfg)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, plan, nil
}

// keyReleasableLocked reports whether cfg's key belongs to cfg's device
// alone. r.mu must be held and cfg's controller already removed or replaced.
func (r *Registry) keyReleasableLocked(cfg homewakev1.DeviceConfig) bool {
	if r.opts.Keys == nil || cfg.SSHKeyRef == "" || !r.opts.Keys.Owns(cfg.Name, cfg.SSHKeyRef) {
		return false
	}
	ref := keyPath(cfg.SSHKeyRef)
	for _, other := range r.controllers {
		if other.cfg.SSHKeyRef != "" && keyPath(other.cfg.SSHKeyRef) == ref {
			return false
		}
	}
	return true
}

// keyPath resolves ref the way the key store does, so relative and
// absolute spellings of one file compare equal.
func keyPath(ref string) string {
	if abs, err := filepath.Abs(ref); err == nil {
		return abs
	}
	return filepath.Clean(ref)
}
