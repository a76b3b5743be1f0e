//go:build darwin

package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

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

// DefaultProvider returns coreml, which runs on the Apple Neural Engine.
func DefaultProvider() string {
	return "coreml"
}
