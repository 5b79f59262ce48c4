package transport

import (
	"context"
	"time"

	"github.com/pocketmcp/pocketmcp-bridge/internal/logx"
	"github.com/pocketmcp/pocketmcp-bridge/internal/metrics"
	"github.com/pocketmcp/pocketmcp-bridge/internal/wire"
)

// RetryBackoff is the fixed wait before the single transient retry.
var RetryBackoff = 300 * time.Millisecond

// WithRetry runs perform, retrying it exactly once after a fixed backoff when
// the failure is classified transient. The second attempt is never retried,
// so the policy cannot recurse. Non-transient failures propagate unchanged.
func WithRetry(ctx context.Context, perform func(ctx context.Context) (*wire.Response, error)) (*wire.Response, error) {
	resp, err := perform(ctx)
	if err == nil || !IsTransient(err) {
		return resp, err
	}
	logx.Log.Debug().Err(err).Dur("backoff", RetryBackoff).Msg("transient remote failure, retrying once")
	metrics.RetryObserved()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(RetryBackoff):
	}
	return perform(ctx)
}
