package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
)

var _ = Describe("WatchInventory", func() {
	var (
		path    string
		mu      sync.Mutex
		applied [][]homewakev1.DeviceConfig
		cancel  context.CancelFunc
		done    chan error
	)

	appliedCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(applied)
	}

	lastApplied := func() []homewakev1.DeviceConfig {
		mu.Lock()
		defer mu.Unlock()
		if len(applied) == 0 {
			return nil
		}
		return applied[len(applied)-1]
	}

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "devices.yaml")
		Expect(os.WriteFile(path, []byte(sampleInventory), 0o644)).To(Succeed())
		applied = nil

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		done = make(chan error, 1)
		go func() {
			done <- WatchInventory(ctx, path, logr.Discard(), func(devices []homewakev1.DeviceConfig) error {
				mu.Lock()
				defer mu.Unlock()
				applied = append(applied, devices)
				return nil
			})
		}()
		// Give the watcher time to register the directory.
		time.Sleep(100 * time.Millisecond)
	})

	AfterEach(func() {
		cancel()
		Eventually(done, 5*time.Second).Should(Receive(BeNil()))
	})

	It("should apply the inventory after the file changes", func() {
		Expect(os.WriteFile(path, []byte(`
devices:
  - name: desktop
    deviceType: windows
    targetAddress: 10.0.0.9
    macAddress: "aa:bb:cc:dd:ee:ff"
`), 0o644)).To(Succeed())

		Eventually(lastApplied, 5*time.Second, 50*time.Millisecond).Should(HaveLen(1))
		Expect(lastApplied()[0].TargetAddress).To(Equal("10.0.0.9"))
	})

	It("should pick up a file replaced by rename", func() {
		tmp := path + ".tmp"
		Expect(os.WriteFile(tmp, []byte("devices: []\n"), 0o644)).To(Succeed())
		Expect(os.Rename(tmp, path)).To(Succeed())

		Eventually(appliedCount, 5*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 1))
		Expect(lastApplied()).To(BeEmpty())
	})

	It("should keep the current devices when the file does not parse", func() {
		Expect(os.WriteFile(path, []byte("devices: [\n"), 0o644)).To(Succeed())
		Consistently(appliedCount, time.Second, 50*time.Millisecond).Should(BeZero())
	})

	It("should ignore other files in the directory", func() {
		other := filepath.Join(filepath.Dir(path), "notes.txt")
		Expect(os.WriteFile(other, []byte("hello"), 0o644)).To(Succeed())
		Consistently(appliedCount, time.Second, 50*time.Millisecond).Should(BeZero())
	})
})
