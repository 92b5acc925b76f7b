package colloquy

import "time"

// RetryBuilder constructs the RetryPolicy applied to every activity
// invocation via SurveyConfig.Retry.
type RetryBuilder struct {
	policy RetryPolicy
}

// Retry starts a builder bounding an activity to maxAttempts calls in
// total. maxAttempts <= 0 is treated as 1 (no retries).
//
//	cfg.Retry = colloquy.Retry(3).WithExponentialBackoff(500*time.Millisecond, 2.0, 5*time.Second).Policy()
func Retry(maxAttempts int) RetryBuilder {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return RetryBuilder{policy: RetryPolicy{MaxAttempts: maxAttempts}}
}

// WithExponentialBackoff sleeps initial before the first retry and grows
// the delay by multiplier each attempt (default 2.0 if <= 0), capped at
// max when max > 0. The schedule depends only on the policy and the
// attempt number, so it replays deterministically.
func (r RetryBuilder) WithExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) RetryBuilder {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	r.policy.InitialBackoff = initial
	r.policy.BackoffMultiplier = multiplier
	r.policy.MaxBackoff = max
	return r
}

// WithConstantBackoff sleeps the same delay before every retry.
func (r RetryBuilder) WithConstantBackoff(delay time.Duration) RetryBuilder {
	return r.WithExponentialBackoff(delay, 1.0, 0)
}

// Immediate retries without sleeping. MaxAttempts still bounds the calls.
func (r RetryBuilder) Immediate() RetryBuilder {
	r.policy.InitialBackoff = 0
	r.policy.BackoffMultiplier = 0
	r.policy.MaxBackoff = 0
	return r
}

// Policy returns the built RetryPolicy.
func (r RetryBuilder) Policy() RetryPolicy {
	return r.policy
}
