package tensor

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/cpu"
)

// Device is a compute target together with the capabilities detected on it
type Device struct {
	Type     DeviceType
	Arch     string
	Features []string
}

func (d Device) String() string {
	if len(d.Features) == 0 {
		return fmt.Sprintf("%s (%s)", d.Type, d.Arch)
	}
	return fmt.Sprintf("%s (%s: %s)", d.Type, d.Arch, strings.Join(d.Features, ","))
}

// DetectDevice reports the best compute target available to this process.
// Kernels run on the CPU through gonum, so the result is always a CPU device;
// the SIMD features are informational.
func DetectDevice() Device {
	var features []string
	switch runtime.GOARCH {
	case "amd64", "386":
		for name, ok := range map[string]bool{
			"avx":     cpu.X86.HasAVX,
			"avx2":    cpu.X86.HasAVX2,
			"avx512f": cpu.X86.HasAVX512F,
			"fma":     cpu.X86.HasFMA,
			"sse4.1":  cpu.X86.HasSSE41,
		} {
			if ok {
				features = append(features, name)
			}
		}
	case "arm64":
		for name, ok := range map[string]bool{
			"asimd": cpu.ARM64.HasASIMD,
			"sve":   cpu.ARM64.HasSVE,
			"fphp":  cpu.ARM64.HasFPHP,
		} {
			if ok {
				features = append(features, name)
			}
		}
	}
	sort.Strings(features)

	return Device{Type: CPU, Arch: runtime.GOARCH, Features: features}
}

// ToDevice returns t placed on the requested device
func (t *Tensor) ToDevice(device DeviceType) (*Tensor, error) {
	switch device {
	case CPU:
		if t.Device == CPU {
			return t, nil
		}
		clone := t.Clone()
		clone.Device = CPU
		return clone, nil
	default:
		return nil, fmt.Errorf("device %s is not supported by the compute backend", device)
	}
}
