package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// isRetriable reports whether err is a transient Postgres conflict.
// Concurrent log appends against the same run row can deadlock or lose
// a serialization race; both resolve on a re-attempt.
func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected.
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// WithRetry runs fn, re-attempting up to maxRetries times when it fails
// with a retriable conflict. Waits between attempts double from delay,
// plus jitter so competing appenders do not fall into lockstep.
func WithRetry(ctx context.Context, maxRetries int, delay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // backoff jitter, not a secret
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
