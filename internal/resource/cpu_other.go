//go:build !unix

package resource

import "time"

// processCPUTime is not tracked on this platform; CPU pressure reads as zero
func processCPUTime() (time.Duration, error) {
	return 0, nil
}
