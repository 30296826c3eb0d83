//go:build !linux

package scheduler

import (
	"errors"
	"runtime"
)

var errAffinityUnsupported = errors.New("cpu affinity not supported on " + runtime.GOOS)

func AllowedCPUs() ([]int, error) {
	return nil, errAffinityUnsupported
}

func PinThread(int) error {
	return errAffinityUnsupported
}

func threadID() int {
	return 0
}
