// Package sherpa re-exports the platform build of sherpa-onnx used for the
// on-device recognizer and voice.
package sherpa

// Provider resolves an execution provider name, picking the platform
// default when p is empty or "auto".
func Provider(p string) string {
	if p == "" || p == "auto" {
		return DefaultProvider()
	}
	return p
}
