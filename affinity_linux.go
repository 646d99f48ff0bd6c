//go:build linux

package taskmill

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinThread binds the calling OS thread to one CPU. The goroutine must
// already hold runtime.LockOSThread.
func pinThread(index int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(index % runtime.NumCPU())
	return unix.SchedSetaffinity(0, &set)
}
