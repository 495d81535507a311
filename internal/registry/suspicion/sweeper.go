package suspicion

import (
	"context"
	"log/slog"
	"time"

	dErrors "civreg/pkg/domain-errors"
)

// Sweeper periodically reclaims expired suspicion locks. Backends with
// native TTL make each sweep a cheap no-op; the loop still runs so memory
// and SQL backends converge without depending on read traffic.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger) (*Sweeper, error) {
	if service == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "suspicion service is required")
	}
	if interval <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "sweep interval must be positive")
	}
	return &Sweeper{service: service, interval: interval, logger: logger}, nil
}

// Run sweeps on every tick until ctx is cancelled. Sweep failures are
// logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.service.SweepExpired(ctx); err != nil && s.logger != nil {
				s.logger.ErrorContext(ctx, "suspicion lock sweep failed", "error", err)
			}
		}
	}
}
