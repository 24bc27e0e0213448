package config

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	homewakev1 "github.com/Unbounder1/home-wake/api/v1"
)

const sampleInventory = `
devices:
  - name: desktop
    deviceType: windows
    targetAddress: 10.0.0.5
    macAddress: "aa:bb:cc:dd:ee:ff"
  - name: vm1
    deviceType: other
    targetAddress: 10.0.0.7
    port: 2222
    poweronCommand: virsh start vm1
    shutdownCommand: virsh shutdown vm1
`

var _ = Describe("Inventory", func() {
	It("should decode every device record", func() {
		devices, err := ParseInventory(strings.NewReader(sampleInventory))
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(Equal([]homewakev1.DeviceConfig{
			{
				Name:          "desktop",
				DeviceType:    homewakev1.DeviceTypeWindows,
				TargetAddress: "10.0.0.5",
				MACAddress:    "aa:bb:cc:dd:ee:ff",
			},
			{
				Name:            "vm1",
				DeviceType:      homewakev1.DeviceTypeVM,
				TargetAddress:   "10.0.0.7",
				Port:            2222,
				PowerOnCommand:  "virsh start vm1",
				ShutdownCommand: "virsh shutdown vm1",
			},
		}))
	})

	It("should treat an empty document as no devices", func() {
		devices, err := ParseInventory(strings.NewReader(""))
		Expect(err).NotTo(HaveOccurred())
		Expect(devices).To(BeEmpty())
	})

	It("should reject unknown keys", func() {
		_, err := ParseInventory(strings.NewReader(`
devices:
  - name: desktop
    deviceType: windows
    targetAdress: 10.0.0.5
`))
		Expect(err).To(MatchError(ContainSubstring("targetAdress")))
	})

	It("should load from disk and find devices by name", func() {
		path := filepath.Join(GinkgoT().TempDir(), "devices.yaml")
		Expect(os.WriteFile(path, []byte(sampleInventory), 0o644)).To(Succeed())

		devices, err := LoadInventory(path)
		Expect(err).NotTo(HaveOccurred())

		vm, ok := FindDevice(devices, "vm1")
		Expect(ok).To(BeTrue())
		Expect(vm.PowerOnCommand).To(Equal("virsh start vm1"))

		_, ok = FindDevice(devices, "laptop")
		Expect(ok).To(BeFalse())
	})

	It("should fail for a missing file", func() {
		_, err := LoadInventory(filepath.Join(GinkgoT().TempDir(), "none.yaml"))
		Expect(err).To(MatchError(os.ErrNotExist))
	})
})
