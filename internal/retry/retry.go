// Package retry runs provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy bounds how often and how long a call is retried.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout caps each individual attempt; zero means no cap.
	AttemptTimeout time.Duration
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or MaxRetries retries are spent. The last error is returned unchanged.
// notify, if set, is called before each wait.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), notify func(err error, wait time.Duration)) (T, error) {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}

	attempt := func() (T, error) {
		actx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}
		v, err := op(actx)
		if err != nil && ctx.Err() != nil {
			return v, backoff.Permanent(ctx.Err())
		}
		return v, err
	}

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(retries + 1)),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, attempt, opts...)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// AfterHeader converts a Retry-After header value in seconds into an error
// that makes Do wait that long before the next attempt. Unparseable values
// return err unchanged.
func AfterHeader(err error, header string) error {
	secs, perr := strconv.Atoi(header)
	if perr != nil || secs <= 0 {
		return err
	}
	return errors.Join(err, backoff.RetryAfter(secs))
}
