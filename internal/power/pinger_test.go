package power

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Pingers", func() {
	DescribeTable("should reject malformed addresses",
		func(address string) {
			for _, p := range []Pinger{&ICMPPinger{}, &ExecPinger{}} {
				reachable, err := p.IsReachable(context.Background(), address)
				Expect(err).To(MatchError(ErrMalformedAddress))
				Expect(reachable).To(BeFalse())
			}
		},
		Entry("empty", ""),
		Entry("whitespace", "10.0.0.1 -f"),
		Entry("option injection", "-c100"),
		Entry("control character", "host\n"),
	)

	It("should return within the probe timeout whether or not the host answers", func() {
		p := &ICMPPinger{Timeout: 300 * time.Millisecond}

		start := time.Now()
		_, err := p.IsReachable(context.Background(), "198.51.100.77")
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	})

	It("should return early when the caller's context ends", func() {
		p := &ICMPPinger{Timeout: 10 * time.Second}
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := p.IsReachable(ctx, "198.51.100.77")
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", 2*time.Second))
	})

	It("should report unresolvable names as unreachable", func() {
		p := &ICMPPinger{Timeout: 300 * time.Millisecond}
		reachable, err := p.IsReachable(context.Background(), "no-such-host.invalid")
		Expect(err).NotTo(HaveOccurred())
		Expect(reachable).To(BeFalse())
	})

	It("should report a missing ping binary as unreachable", func() {
		p := &ExecPinger{Timeout: 300 * time.Millisecond, Binary: "/nonexistent/ping"}
		reachable, err := p.IsReachable(context.Background(), "192.0.2.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reachable).To(BeFalse())
	})

	It("should map a failing ping exit status to unreachable", func() {
		p := &ExecPinger{Timeout: 300 * time.Millisecond, Binary: "false"}
		reachable, err := p.IsReachable(context.Background(), "192.0.2.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reachable).To(BeFalse())
	})

	It("should map a zero ping exit status to reachable", func() {
		p := &ExecPinger{Timeout: time.Second, Binary: "true"}
		reachable, err := p.IsReachable(context.Background(), "192.0.2.1")
		Expect(err).NotTo(HaveOccurred())
		Expect(reachable).To(BeTrue())
	})

	DescribeTable("builds one-shot ping arguments per platform",
		func(goos string, timeout time.Duration, want []string) {
			Expect(pingArgs(goos, "10.0.0.5", timeout)).To(Equal(want))
		},
		Entry("linux", "linux", 2*time.Second, []string{"-c", "1", "-W", "2", "10.0.0.5"}),
		Entry("linux rounds up", "linux", 1500*time.Millisecond, []string{"-c", "1", "-W", "2", "10.0.0.5"}),
		Entry("linux minimum", "linux", 100*time.Millisecond, []string{"-c", "1", "-W", "1", "10.0.0.5"}),
		Entry("darwin", "darwin", 2*time.Second, []string{"-c", "1", "-t", "2", "10.0.0.5"}),
		Entry("windows", "windows", 2*time.Second, []string{"-n", "1", "-w", "2000", "10.0.0.5"}),
	)
})
