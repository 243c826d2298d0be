//go:build !linux && !darwin

package socket

// No platform-specific options to apply; Apply/ApplyListener degrade to
// no-ops beyond the type assertions in tuning.go.

func applyConnOptions(int, Config) error { return nil }

func applyListenerOptions(int, Config) {}
