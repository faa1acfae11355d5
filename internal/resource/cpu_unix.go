//go:build unix

package resource

import (
	"syscall"
	"time"
)

// processCPUTime returns user+system CPU time consumed by this process
func processCPUTime() (time.Duration, error) {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0, err
	}
	user := time.Duration(ru.Utime.Nano())
	sys := time.Duration(ru.Stime.Nano())
	return user + sys, nil
}
