package taskmill

import "runtime"

// goroutineID parses the current goroutine's id from its stack header. Used
// by owner checks and to detect Stop called from a loop, never per job.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
