package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// prunedTables lists the history tables and their unix-millis time column.
var prunedTables = []struct {
	name   string
	column string
}{
	{"partition_snapshots", "fetched_at"},
	{"temperature_readings", "recorded_at"},
	{"alert_log", "ts"},
}

// Pruner periodically removes history older than a retention window.
type Pruner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewPruner creates a pruner that deletes rows older than retention.
func NewPruner(store *Store, retention time.Duration) *Pruner {
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  1 * time.Hour,
		now:       time.Now,
	}
}

// Run starts the pruner loop. It blocks until the context is cancelled.
func (p *Pruner) Run(ctx context.Context) error {
	slog.Info("pruner started", "interval", p.interval, "retention", p.retention)

	// Run once at startup
	p.prune(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	cutoff := p.now().Add(-p.retention).UnixMilli()
	for _, t := range prunedTables {
		query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.name, t.column)
		result, err := p.store.db.ExecContext(ctx, query, cutoff)
		if err != nil {
			slog.Error("pruning failed", "table", t.name, "error", err)
			continue
		}
		rows, _ := result.RowsAffected()
		if rows > 0 {
			slog.Info("pruned old data", "table", t.name, "rows", rows)
		}
	}
}
