package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it for streams a consumer is not interested in, such as the interim
// transcript channel of a transcription session, so the producer never blocks.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
