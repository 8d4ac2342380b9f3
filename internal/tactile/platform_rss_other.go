//go:build !windows && !darwin

package tactile

import "syscall"

// ru_maxrss is reported in kilobytes on Linux and the BSDs.
func maxRSSBytes(r *syscall.Rusage) int64 {
	return int64(r.Maxrss) * 1024
}
