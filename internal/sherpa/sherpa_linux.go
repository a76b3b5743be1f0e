//go:build linux

package sherpa

import (
	"os"
	"strings"

	impl "github.com/k2-fsa/sherpa-onnx-go-linux"
)

type OfflineRecognizer = impl.OfflineRecognizer
type OfflineRecognizerConfig = impl.OfflineRecognizerConfig
type OfflineStream = impl.OfflineStream

type OfflineTts = impl.OfflineTts
type OfflineTtsConfig = impl.OfflineTtsConfig
type GeneratedAudio = impl.GeneratedAudio

var (
	NewOfflineRecognizer    = impl.NewOfflineRecognizer
	DeleteOfflineRecognizer = impl.DeleteOfflineRecognizer
	NewOfflineStream        = impl.NewOfflineStream
	DeleteOfflineStream     = impl.DeleteOfflineStream

	NewOfflineTts    = impl.NewOfflineTts
	DeleteOfflineTts = impl.DeleteOfflineTts
)

// DefaultProvider returns cuda when an NVIDIA GPU (discrete or Jetson) is
// present, cpu otherwise.
func DefaultProvider() string {
	if hasNvidiaGPU() {
		return "cuda"
	}
	return "cpu"
}

func hasNvidiaGPU() bool {
	for _, path := range []string{
		"/usr/bin/nvidia-smi",
		"/usr/local/bin/nvidia-smi",
		"/dev/nvidia0",
		"/dev/nvhost-gpu", // Jetson
		"/etc/nv_tegra_release",
	} {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	data, err := os.ReadFile("/proc/device-tree/compatible")
	if err != nil {
		return false
	}
	compatible := string(data)
	return strings.Contains(compatible, "nvidia,tegra") || strings.Contains(compatible, "nvidia,jetson")
}
