package spi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"psd2gateway/internal/common/logging"
	"psd2gateway/internal/common/metrics"
)

// Error codes produced by the guard itself.
const (
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// Guard bounds every adapter call with a rate limit and a timeout.
// A nil Guard calls the adapter directly.
type Guard struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewGuard creates a guard allowing perSecond calls with the given burst.
// A non-positive perSecond disables rate limiting.
func NewGuard(perSecond float64, burst int, timeout time.Duration) *Guard {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		limiter: rate.NewLimiter(limit, burst),
		timeout: timeout,
	}
}

type result[T any] struct {
	resp     Response[T]
	panicked any
}

// Invoke runs call under g. Throttling, timeouts and panics in adapter code
// come back as failure responses so the stage can fail the authorisation.
func Invoke[T any](ctx context.Context, g *Guard, operation string, call func(ctx context.Context) Response[T]) Response[T] {
	if g == nil {
		return call(ctx)
	}

	start := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.RecordSpiCall(operation, "throttled", time.Since(start))
		logging.WarnContext(ctx, "Bank adapter call throttled", "operation", operation, "error", err)
		return Failure[T](Error{Code: CodeServiceUnavailable, Text: "adapter rate limit exceeded"})
	}

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if g.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result[T]{panicked: p}
			}
		}()
		done <- result[T]{resp: call(callCtx)}
	}()

	select {
	case r := <-done:
		if r.panicked != nil {
			metrics.RecordSpiCall(operation, "panic", time.Since(start))
			logging.ErrorContext(ctx, "Bank adapter panicked", "operation", operation, "panic", fmt.Sprint(r.panicked))
			return Failure[T](Error{Code: CodeInternalServerError, Text: "adapter failure"})
		}
		outcome := "success"
		if r.resp.HasError() {
			outcome = "failure"
		}
		metrics.RecordSpiCall(operation, outcome, time.Since(start))
		return r.resp
	case <-callCtx.Done():
		metrics.RecordSpiCall(operation, "timeout", time.Since(start))
		logging.WarnContext(ctx, "Bank adapter call timed out",
			"operation", operation,
			"deadline_exceeded", errors.Is(callCtx.Err(), context.DeadlineExceeded),
		)
		return Failure[T](Error{Code: CodeServiceUnavailable, Text: "adapter did not respond in time"})
	}
}
