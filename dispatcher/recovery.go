package dispatcher

import (
	"log/slog"
	"time"

	"github.com/Theauxm/manifold/metadata"
)

func (d *Dispatcher) recoveryLoop() {
	defer d.wg.Done()

	// Sweep once at startup so orphans left by a crash are failed
	// before the first interval elapses.
	d.recover()

	if d.recoveryInterval <= 0 {
		return
	}

	ticker := time.NewTicker(d.recoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.recover()
		}
	}
}

// recover fails active executions whose claim expired. The holder is
// presumed dead: a crashed dispatcher leaves Pending or InProgress
// records behind, and failing them re-opens the manifest for the
// manager's automatic retry path. Claims held by this process are
// skipped — its executions are demonstrably alive.
func (d *Dispatcher) recover() {
	ctx := d.runCtx
	now := time.Now().UTC()

	expired, err := d.store.ListExpiredClaims(ctx, now)
	if err != nil {
		d.logger.Error("list expired claims error", slog.String("error", err.Error()))
		return
	}

	for _, md := range expired {
		if md.ClaimedBy.String() == d.workerID.String() {
			continue
		}

		end := now
		md.State = metadata.StateFailed
		md.EndTime = &end
		md.FailureStep = "recover"
		md.FailureReason = "claim expired; holder presumed dead"
		md.ClaimExpiresAt = nil

		if err := d.store.FinishExecution(ctx, md, nil); err != nil {
			d.logger.Error("recover execution error",
				slog.String("metadata_id", md.ID.String()),
				slog.String("error", err.Error()))
			continue
		}

		d.logger.Warn("orphaned execution recovered",
			slog.String("metadata_id", md.ID.String()),
			slog.String("workflow", md.Name),
			slog.String("claimed_by", md.ClaimedBy.String()))
	}
}
