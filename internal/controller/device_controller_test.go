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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
	"github.com/Unbounder1/home-wake/internal/power"
)

var _ = Describe("Device Controller", func() {
	var (
		ctx      context.Context
		m        *mocks
		opts     Options
		registry *Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		m = newMocks()
		opts = m.options()
	})

	JustBeforeEach(func() {
		registry = NewRegistry(opts)
		DeferCleanup(registry.Shutdown)
	})

	// reconfigure replaces the registry built in JustBeforeEach.
	reconfigure := func(mutate func(*Options)) {
		mutate(&opts)
		registry = NewRegistry(opts)
		DeferCleanup(registry.Shutdown)
	}

	register := func(cfg homewakev1.DeviceConfig) *DeviceController {
		c, err := registry.Register(cfg)
		Expect(err).NotTo(HaveOccurred())
		waitForInitialPoll(c)
		return c
	}

	Context("when polling", func() {
		It("should probe the target address on registration", func() {
			c := register(windowsDevice())
			Expect(m.pinger.Calls()).To(Equal(1))
			Expect(m.pinger.LastAddress).To(Equal("10.0.0.5"))
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOff))
			Expect(c.State().LastCheckedAt.Time.IsZero()).To(BeFalse())
		})

		It("should report unknown until the first probe completes", func() {
			m.pinger.Hang = true
			reconfigure(func(o *Options) { o.ProbeTimeout = 300 * time.Millisecond })

			c, err := registry.Register(windowsDevice())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateUnknown))
			Expect(c.State().LastCheckedAt.Time.IsZero()).To(BeTrue())

			Eventually(c.Ready(), timeout, interval).Should(BeClosed())
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOff))
		})

		It("should record a reachable device as on", func() {
			c := register(windowsDevice())
			m.pinger.SetReachable(true)

			state := c.Poll(ctx)
			Expect(state.Power).To(Equal(homewakev1.PowerStateOn))
			Expect(state.Reachable).To(BeTrue())
			Expect(state.LastCheckedAt.IsZero()).To(BeFalse())
			Expect(c.State()).To(Equal(state))
		})

		It("should record an unreachable device as off", func() {
			m.pinger.Reachable = true
			c := register(windowsDevice())
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOn))

			m.pinger.SetReachable(false)
			state := c.Poll(ctx)
			Expect(state.Power).To(Equal(homewakev1.PowerStateOff))
			Expect(state.Reachable).To(BeFalse())
		})

		It("should treat a probe error as unreachable", func() {
			m.pinger.Reachable = true
			m.pinger.ReturnError = power.ErrMalformedAddress
			c := register(windowsDevice())

			state := c.Poll(ctx)
			Expect(state.Power).To(Equal(homewakev1.PowerStateOff))
			Expect(state.Reachable).To(BeFalse())
		})

		It("should bound a probe that never answers by the probe timeout", func() {
			m.pinger.Hang = true
			reconfigure(func(o *Options) { o.ProbeTimeout = 100 * time.Millisecond })
			c := register(windowsDevice())

			start := time.Now()
			state := c.Poll(ctx)
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(state.Power).To(Equal(homewakev1.PowerStateOff))
		})
	})

	Context("when turning a windows device off", func() {
		It("should send exactly one shutdown request and mark it off", func() {
			m.pinger.Reachable = true
			c := register(windowsDevice())
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOn))

			Expect(c.TurnOff(ctx)).To(Succeed())
			Expect(m.http.URLs()).To(Equal([]string{"http://10.0.0.5:8000/?action=System.Shutdown"}))
			Expect(m.http.Requests[0].Method).To(Equal("GET"))
			Expect(m.wol.Calls()).To(BeZero())
			Expect(m.ssh.Calls()).To(BeZero())

			state := c.State()
			Expect(state.Power).To(Equal(homewakev1.PowerStateOff))
			Expect(state.Reachable).To(BeFalse())
		})
	})

	Context("when turning a windows device on", func() {
		It("should broadcast a magic packet and mark it on", func() {
			c := register(windowsDevice())

			Expect(c.TurnOn(ctx)).To(Succeed())
			Expect(m.wol.Calls()).To(Equal(1))
			Expect(m.wol.LastMAC).To(Equal("aa:bb:cc:dd:ee:ff"))
			Expect(m.wol.LastAddr).To(Equal("255.255.255.255:9"))
			Expect(m.http.URLs()).To(BeEmpty())

			state := c.State()
			Expect(state.Power).To(Equal(homewakev1.PowerStateOn))
			Expect(state.Reachable).To(BeTrue())
		})
	})

	Context("when turning a linux device off", func() {
		It("should run poweroff as root with the device key", func() {
			c := register(linuxDevice())

			Expect(c.TurnOff(ctx)).To(Succeed())
			Expect(m.ssh.Calls()).To(Equal(1))
			Expect(m.ssh.LastCommand).To(Equal("poweroff"))
			Expect(m.ssh.LastTarget).To(Equal(power.SSHTarget{
				Host:   "10.0.0.6",
				Port:   22,
				User:   "root",
				KeyRef: "/keys/server.key",
			}))
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOff))
		})
	})

	Context("when turning a VM on", func() {
		It("should run the configured command once and ignore its exit status", func() {
			m.ssh.ExitStatus = 1
			c := register(vmDevice())

			Expect(c.TurnOn(ctx)).To(Succeed())
			Expect(m.ssh.Calls()).To(Equal(1))
			Expect(m.ssh.LastCommand).To(Equal("virsh start vm1"))
			Expect(m.wol.Calls()).To(BeZero())
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOn))
		})

		It("should run the configured shutdown command to turn it off", func() {
			c := register(vmDevice())

			Expect(c.TurnOff(ctx)).To(Succeed())
			Expect(m.ssh.LastCommand).To(Equal("virsh shutdown vm1"))
		})
	})

	Context("when a power action fails", func() {
		It("should return the adapter error and leave the power state alone", func() {
			m.wol.ReturnError = errors.New("network is unreachable")
			c := register(windowsDevice())
			before := c.State()

			err := c.TurnOn(ctx)
			Expect(err).To(MatchError(power.ErrAdapter))
			Expect(err).To(MatchError(power.ErrWolSend))

			state := c.State()
			Expect(state.Power).To(Equal(before.Power))
			Expect(state.Reachable).To(Equal(before.Reachable))
			Expect(state.LastError).To(ContainSubstring("network is unreachable"))
		})

		It("should clear the last error on the next successful action", func() {
			m.http.ReturnError = errors.New("connection refused")
			c := register(windowsDevice())
			Expect(c.TurnOff(ctx)).NotTo(Succeed())
			Expect(c.State().LastError).NotTo(BeEmpty())

			Expect(c.TurnOn(ctx)).To(Succeed())
			Expect(c.State().LastError).To(BeEmpty())
		})

		It("should give up once the action timeout expires", func() {
			reconfigure(func(o *Options) { o.ActionTimeout = 100 * time.Millisecond })
			m.ssh.Block = make(chan struct{})
			DeferCleanup(func() { close(m.ssh.Block) })
			c := register(vmDevice())

			start := time.Now()
			err := c.TurnOn(ctx)
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(c.State().Power).To(Equal(homewakev1.PowerStateOff))
		})
	})

	Context("when operations overlap", func() {
		It("should not probe while a power action is in flight", func() {
			m.ssh.Block = make(chan struct{})
			c := register(vmDevice())
			Expect(m.pinger.Calls()).To(Equal(1))

			actionDone := make(chan error, 1)
			go func() { actionDone <- c.TurnOn(ctx) }()
			Eventually(m.ssh.Calls, timeout, interval).Should(Equal(1))

			pollDone := make(chan homewakev1.DeviceState, 1)
			go func() { pollDone <- c.Poll(ctx) }()
			Consistently(m.pinger.Calls, 200*time.Millisecond, interval).Should(Equal(1))

			close(m.ssh.Block)
			Eventually(actionDone, timeout).Should(Receive(BeNil()))
			var state homewakev1.DeviceState
			Eventually(pollDone, timeout).Should(Receive(&state))
			Expect(m.pinger.Calls()).To(Equal(2))
			// The probe ran after the wake and saw no reply.
			Expect(state.Power).To(Equal(homewakev1.PowerStateOff))
		})

		It("should bound blocking operations across devices by the worker count", func() {
			reconfigure(func(o *Options) { o.Workers = 1 })
			m.ssh.Block = make(chan struct{})

			first := vmDevice()
			second := vmDevice()
			second.Name = "vm2"
			a := register(first)
			b := register(second)

			done := make(chan error, 2)
			go func() { done <- a.TurnOn(ctx) }()
			go func() { done <- b.TurnOn(ctx) }()

			Eventually(m.ssh.Calls, timeout, interval).Should(Equal(1))
			Consistently(m.ssh.Calls, 200*time.Millisecond, interval).Should(Equal(1))

			close(m.ssh.Block)
			Eventually(done, timeout).Should(Receive(BeNil()))
			Eventually(done, timeout).Should(Receive(BeNil()))
			Expect(m.ssh.Calls()).To(Equal(2))
		})
	})

	Context("when the controller is closed", func() {
		It("should cancel an in-flight action and reject later ones", func() {
			m.ssh.Block = make(chan struct{})
			c := register(vmDevice())

			actionDone := make(chan error, 1)
			go func() { actionDone <- c.TurnOn(ctx) }()
			Eventually(m.ssh.Calls, timeout, interval).Should(Equal(1))

			c.Close()
			var err error
			Eventually(actionDone, timeout).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))

			Expect(c.TurnOn(ctx)).To(MatchError(ErrControllerClosed))
			Expect(c.TurnOff(ctx)).To(MatchError(ErrControllerClosed))
			Expect(m.ssh.Calls()).To(Equal(1))
		})

		It("should stop probing and keep the last state", func() {
			m.pinger.Reachable = true
			c := register(windowsDevice())
			c.Close()

			m.pinger.SetReachable(false)
			state := c.Poll(ctx)
			Expect(state.Power).To(Equal(homewakev1.PowerStateOn))
			Expect(m.pinger.Calls()).To(Equal(1))
		})

		It("should tolerate being closed twice", func() {
			c := register(windowsDevice())
			c.Close()
			c.Close()
		})
	})
})
