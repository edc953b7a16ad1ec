package stoptoken

import "runtime"

// getGoroutineID returns the identifier of the calling goroutine.
//
// This is the same technique used by the teacher's event loop to decide
// whether a submission is happening on the loop's own goroutine
// (eventloop/loop.go's getGoroutineID, via runtime.Stack parsing of the
// "goroutine NNN [...]" header). Here it plays the role clu's
// std::this_thread::get_id() plays in in_place_stop_source::request_stop:
// distinguishing "a callback is closing itself, reentrantly, from within its
// own invocation" from "a different goroutine is closing a callback that is
// concurrently executing".
func getGoroutineID() uint64 {
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
