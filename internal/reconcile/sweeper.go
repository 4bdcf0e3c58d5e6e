package reconcile

import (
	"context"
	"sync"
	"time"

	"fundly/pkg/domain"
	"fundly/pkg/logger"
)

// Settler is the part of Engine the sweeper drives.
type Settler interface {
	Settle(ctx context.Context, ref string) (*domain.Donation, error)
}

type SweepConfig struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

type SweepReport struct {
	Examined     int `json:"examined"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	StillPending int `json:"still_pending"`
	Errors       int `json:"errors"`
}

// Sweeper re-settles donations stuck in PENDING, covering webhooks that
// never arrived and donors who never returned. It never fails a donation
// on age alone; only the gateway's answer moves it.
//
// Each sweep resumes after the last donation the previous one examined,
// so donations the gateway never resolves cannot hold back newer ones.
type Sweeper struct {
	settler Settler
	finder  StaleFinder
	cfg     SweepConfig
	logger  logger.Logger
	now     func() time.Time
	mu      sync.Mutex
	cursor  *StaleCursor
}

func NewSweeper(settler Settler, finder StaleFinder, cfg SweepConfig, log logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{settler: settler, finder: finder, cfg: cfg, logger: log, now: time.Now}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("Sweep failed", map[string]interface{}{
					"error": err.Error(),
				})
			}
		}
	}
}

// Sweep settles one batch of stale PENDING donations. Per-donation errors
// are counted and logged; they do not stop the batch.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.finder.FindStalePending(ctx, cutoff, s.cursor, s.cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(stale) == 0 && s.cursor != nil {
		// Past the end; wrap around to the oldest.
		s.cursor = nil
		if stale, err = s.finder.FindStalePending(ctx, cutoff, nil, s.cfg.BatchSize); err != nil {
			return nil, err
		}
	}

	report := &SweepReport{}
	for _, d := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		s.cursor = &StaleCursor{CreatedAt: d.CreatedAt, Reference: d.TransactionReference}

		settled, err := s.settler.Settle(ctx, d.TransactionReference)
		if err != nil {
			report.Errors++
			s.logger.Warn("Failed to settle stale donation", map[string]interface{}{
				"transaction_reference": d.TransactionReference,
				"error":                 err.Error(),
			})
			continue
		}

		switch settled.Status {
		case domain.DonationStatusSuccess:
			report.Succeeded++
		case domain.DonationStatusFailed:
			report.Failed++
		default:
			report.StillPending++
		}
	}

	if len(stale) < s.cfg.BatchSize && report.Examined == len(stale) {
		s.cursor = nil
	}

	if report.Examined > 0 {
		s.logger.Info("Stale donations swept", map[string]interface{}{
			"examined":      report.Examined,
			"succeeded":     report.Succeeded,
			"failed":        report.Failed,
			"still_pending": report.StillPending,
			"errors":        report.Errors,
		})
	}
	return report, nil
}
