package qemu_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/qemu"
)

func TestQemu(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Qemu Suite")
}

var _ = Describe("VM", func() {
	Describe("Args", func() {
		It("should render a headless machine with a QMP socket", func() {
			vm := qemu.New("qemu-system-x86_64", "/work")

			args := vm.Args()
			Expect(args).To(ContainElements("-nodefaults", "-display", "none"))
			Expect(args).To(ContainElements("-machine", "accel=kvm:tcg"))
			Expect(args).To(ContainElements("-qmp", "unix:/work/qmp.sock,server,nowait"))
			Expect(vm.SocketPath()).To(Equal("/work/qmp.sock"))
		})

		It("should render one -drive per attached drive", func() {
			vm := qemu.New("qemu-system-x86_64", "/work")
			vm.AttachDrive(models.Drive{
				ID:     "drive0",
				Path:   "/work/drive0.qcow2",
				Format: "qcow2",
			})
			vm.AttachDrive(models.Drive{
				ID:     "drive1",
				Path:   "/work/drive1.qcow2",
				Format: "raw",
			})

			Expect(vm.Args()).To(ContainElements(
				"file=/work/drive0.qcow2,format=qcow2,if=none,id=drive0",
				"file=/work/drive1.qcow2,format=raw,if=none,id=drive1",
			))
		})

		It("should wrap a faulty drive in a blkdebug node", func() {
			vm := qemu.New("qemu-system-x86_64", "/work")
			vm.AttachDrive(models.Drive{
				ID:     "drive0",
				Path:   "/work/drive0.qcow2",
				Format: "qcow2",
				Fault: &models.FaultConfig{
					Event: "read_aio",
					Errno: 5,
					Once:  true,
				},
			})

			Expect(vm.Args()).To(ContainElement(
				"driver=qcow2," +
					"file.driver=blkdebug," +
					"file.image.driver=file," +
					"file.image.filename=/work/drive0.qcow2," +
					"file.inject-error.0.event=read_aio," +
					"file.inject-error.0.errno=5," +
					"file.inject-error.0.once=on," +
					"if=none,id=drive0",
			))
		})

		It("should omit the once flag for persistent faults", func() {
			vm := qemu.New("qemu-system-x86_64", "/work")
			vm.AttachDrive(models.Drive{
				ID:     "drive0",
				Path:   "/work/drive0.qcow2",
				Format: "qcow2",
				Fault: &models.FaultConfig{
					Event: "write_aio",
					Errno: 28,
				},
			})

			args := vm.Args()
			var spec string
			for i, a := range args {
				if a == "-drive" && i+1 < len(args) {
					spec = args[i+1]
				}
			}
			Expect(spec).To(ContainSubstring("file.inject-error.0.event=write_aio"))
			Expect(spec).To(ContainSubstring("file.inject-error.0.errno=28"))
			Expect(spec).NotTo(ContainSubstring("once"))
		})
	})
})
