package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/config"
)

// defaultBackoff is the retry policy for one Generate call. The caller's
// context deadline bounds it further.
func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}

// transientStatus reports whether an HTTP status is worth retrying.
func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// NewLimiter builds the request limiter shared by every client of one
// endpoint. It returns nil when limiting is disabled.
func NewLimiter(cfg config.LLMModelConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, cfg.RateBurst))
}

// waitLimiter blocks until the limiter admits a request. A nil limiter
// admits everything.
func waitLimiter(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

// asInferenceError wraps err, flagging deadline expiry as a timeout.
func asInferenceError(ctx context.Context, err error) error {
	var ie *schemas.InferenceError
	if errors.As(err, &ie) {
		return err
	}
	timeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
	return &schemas.InferenceError{Timeout: timeout, Err: err}
}
