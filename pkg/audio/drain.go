package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Capture code uses it after releasing a device so the backend's producer
// goroutine can finish its last send and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
