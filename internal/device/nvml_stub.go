//go:build !nvml

package device

import "fmt"

// NewNVMLRuntime is only available when built with the `nvml` tag.
func NewNVMLRuntime(index int) (Runtime, error) {
	return nil, fmt.Errorf("device: binary built without nvml support (rebuild with -tags nvml)")
}
