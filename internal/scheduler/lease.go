package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kirillm/swing-trader/internal/domain"
	"github.com/kirillm/swing-trader/pkg/utils"
)

// LeaseGuard runs a function only while holding a named lease in the shared
// store. A nil *LeaseGuard runs everything unguarded.
type LeaseGuard struct {
	store  domain.LeaseStore
	holder string
	ttl    time.Duration
	logger *utils.Logger
}

func NewLeaseGuard(store domain.LeaseStore, holder string, ttl time.Duration, logger *utils.Logger) *LeaseGuard {
	return &LeaseGuard{
		store:  store,
		holder: holder,
		ttl:    ttl,
		logger: logger,
	}
}

// Holder returns this instance's lease identity.
func (g *LeaseGuard) Holder() string {
	if g == nil {
		return ""
	}
	return g.holder
}

// Do runs fn under the lease. It returns ErrLeaseHeld without calling fn
// when another holder owns an unexpired lease.
func (g *LeaseGuard) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if g == nil || g.store == nil {
		return fn(ctx)
	}

	ok, err := g.store.AcquireLease(ctx, name, g.holder, g.ttl)
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", name, domain.ErrLeaseHeld)
	}

	defer func() {
		// контекст задачи уже может быть отменен
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := g.store.ReleaseLease(releaseCtx, name, g.holder); err != nil {
			g.logger.Warn("⚠️ Failed to release lease %s: %v", name, err)
		}
	}()

	return fn(ctx)
}
