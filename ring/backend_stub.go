//go:build !linux

package ring

import (
	"fmt"

	"warpcore/api"
)

func platformFeatures() api.BackendFeatures {
	return api.BackendFeatures{OS: "unsupported"}
}

func openPlatform(cfg Config) (api.RingBackend, error) {
	return nil, fmt.Errorf("ring: no ring backend available on this platform")
}
