//go:build !linux

package engine

import "warpcore/api"

type stubProbe struct{}

// NewPlatformProbe returns a probe that always reports
// ErrNoSuchInterface; Linux is the only platform with a real ring
// backend, so non-Linux builds only exist to let the package compile
// for tooling, not to run an engine.
func NewPlatformProbe() api.PlatformProbe { return stubProbe{} }

func (stubProbe) Discover(ifname string) (api.IfaceInfo, error) {
	return api.IfaceInfo{}, api.ErrNoSuchInterface
}
