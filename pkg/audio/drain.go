package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// prevent goroutine leaks when tearing down a stream whose remaining values
// are no longer needed (e.g. an adapter event channel after Close).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
