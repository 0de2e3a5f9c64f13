// Package lifecycle runs the expiry sweep from §4.4: records whose
// expires_at has passed are marked status=expired (never deleted), so the
// "once expired, never active again" monotonicity invariant holds and
// TrackProjectEvolution can still see them in history. Adapted from the
// teacher's lifecycle.Manager, trimmed to the one phase SPEC_FULL.md names
// — session decay, consolidation and fact retirement have no analogue in a
// content-addressed, supersession-based record model.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openclaw/memcore/internal/fingerprint"
	"github.com/openclaw/memcore/internal/metrics"
	"github.com/openclaw/memcore/internal/models"
	"github.com/openclaw/memcore/internal/ports"
)

const pageSize = 500

// Report summarizes one sweep run.
type Report struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
}

// Sweeper marks expired records across a scope. It holds no high-water
// mark of its own; a record already status=expired is skipped on repeat
// sweeps by the monotonic status check, so running it on a ticker against
// the same scope is cheap and idempotent.
type Sweeper struct {
	vector ports.VectorStore
	pubsub ports.PubSub
	clock  ports.Clock
	logger *slog.Logger
}

// NewSweeper builds a Sweeper. pubsub may be nil to skip event emission;
// clock may be nil to default to time.Now.
func NewSweeper(vector ports.VectorStore, pubsub ports.PubSub, clock ports.Clock, logger *slog.Logger) *Sweeper {
	return &Sweeper{vector: vector, pubsub: pubsub, clock: clock, logger: logger}
}

func (s *Sweeper) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// Run scans every record in scope and flips status=expired for any whose
// expires_at has passed, per §4.4/§8 scenario 6. dryRun reports the count
// without writing.
func (s *Sweeper) Run(ctx context.Context, scope models.Scope, dryRun bool) (Report, error) {
	now := s.now()

	var report Report
	cursor := ""
	for {
		page, next, err := s.vector.List(ctx, scope, cursor, pageSize)
		if err != nil {
			return report, fmt.Errorf("lifecycle: listing scope: %w", err)
		}

		for _, rec := range page {
			report.Scanned++
			if rec.Status != models.StatusActive && rec.Status != models.StatusConflicted {
				continue
			}
			if !rec.IsExpired(now) {
				continue
			}

			s.logger.Info("expiring record", "id", rec.ID, "expires_at", rec.ExpiresAt)
			if dryRun {
				report.Expired++
				continue
			}

			if err := s.vector.UpdateStatus(ctx, scope, rec.ID, models.StatusExpired, "", 0, now); err != nil {
				s.logger.Error("expiring record failed", "id", rec.ID, "error", err)
				continue
			}
			metrics.Inc(metrics.LifecycleExpired)
			report.Expired++

			if s.pubsub != nil {
				_ = s.pubsub.Publish(ctx, ports.TopicMemoryExpired, ports.Event{
					Topic: ports.TopicMemoryExpired, ID: rec.ID, ScopeHash: fingerprint.ScopeHash(scope), Timestamp: now,
				})
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	return report, nil
}
