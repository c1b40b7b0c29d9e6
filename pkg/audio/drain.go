package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when a streaming channel must be
// consumed to completion but its data is no longer needed (e.g. the frame
// channel of a listener that has already triggered).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// OfferLatest performs a drop-oldest send on a bounded channel: when ch is
// full the oldest queued value is discarded to make room for v. Returns false
// only if the value still could not be queued (a racing reader refilled the
// buffer). Must only be called from the single producer of ch.
func OfferLatest[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
