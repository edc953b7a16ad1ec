package stoptoken

import "context"

// NewSourceFromContext returns a Source whose stop is requested the moment
// ctx is done. This is the bridge from Go's ambient cancellation idiom
// (context.Context, as threaded through every blocking call in the
// teacher's event loop, e.g. Promisify's ctx.Done() race) into the
// cooperative stop-token protocol the rest of this module is built on.
//
// If ctx can never be done (ctx.Done() == nil, as for context.Background()),
// NewSourceFromContext returns a Source that only a caller can stop, and
// skips spawning the watcher goroutine.
func NewSourceFromContext(ctx context.Context) *Source {
	src := NewSource()
	if ctx.Done() == nil {
		return src
	}

	stopped := make(chan struct{})
	cb := NewCallback(src.Token(), func() { close(stopped) })
	go func() {
		defer cb.Close()
		select {
		case <-ctx.Done():
			src.RequestStop()
		case <-stopped:
		}
	}()
	return src
}
