package oltpcore

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// Outcome is the three-valued result spec.md §9's DESIGN NOTES calls for in
// place of the original "TRANSACTION { … } RETRY(cond)" macro: an attempt
// either commits, asks to be retried, or aborts for good.
type Outcome int

const (
	// Committed means the attempt finished successfully; stop looping.
	Committed Outcome = iota
	// RetryOutcome means the attempt hit a transient abort (validation
	// failure, contention, phantom) and the closure should run again.
	RetryOutcome
	// AbortFinal means the attempt failed in a way the retry loop must not
	// paper over; stop looping and propagate the error.
	AbortFinal
)

// Run re-invokes attempt until it reports Committed or AbortFinal, or until
// maxAttempts is exhausted, backing off between re-entries with a bounded
// Fibonacci schedule. It is the runtime for the spec's enclosing retry
// scope: "the enclosing retry loop decides whether to restart or propagate."
func Run(ctx context.Context, maxAttempts int, attempt func(ctx context.Context) (Outcome, error)) error {
	// WithMaxRetries counts re-entries after the first call, so maxAttempts
	// calls in all is maxAttempts-1 retries.
	var retries uint64
	if maxAttempts > 1 {
		retries = uint64(maxAttempts - 1)
	}
	backoff := retry.NewFibonacci(time.Millisecond)
	backoff = retry.WithMaxRetries(retries, backoff)

	var lastErr error
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		outcome, err := attempt(ctx)
		switch outcome {
		case Committed:
			return nil
		case AbortFinal:
			lastErr = err
			return err
		default:
			lastErr = err
			return retry.RetryableError(err)
		}
	})
	if err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
