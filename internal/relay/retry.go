package relay

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// RetryPolicy controls how many liveness checks a call makes before the
// bridge is reported unreachable. The zero value makes a single attempt.
// Relayed fetches themselves are never retried.
type RetryPolicy struct {
	Attempts int
	WaitMin  time.Duration
	WaitMax  time.Duration
	Backoff  retryablehttp.Backoff
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// wait returns the pause before retry number attempt (counting from 1).
func (p RetryPolicy) wait(attempt int) time.Duration {
	backoff := p.Backoff
	if backoff == nil {
		backoff = retryablehttp.DefaultBackoff
	}
	return backoff(p.WaitMin, p.WaitMax, attempt, nil)
}
