package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer blocked on a channel nobody consumes any
// more, e.g. the Chunks channel of a [Stream] after the reader has stopped.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
