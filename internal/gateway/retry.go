package gateway

import "time"

const (
	storeWriteAttempts = 3
	storeWriteBackoff  = 50 * time.Millisecond
)

// withRetry runs fn up to attempts times with linear backoff between
// tries, returning the last error when all attempts fail.
func withRetry(attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i < attempts-1 {
			time.Sleep(backoff * time.Duration(i+1))
		}
	}

	return err
}
