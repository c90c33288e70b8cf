package repository

import (
	"context"
	"fmt"
	"time"

	"SignalPulse/internal/domain/models"
	pkgch "SignalPulse/pkg/clickhouse"
	applogger "SignalPulse/pkg/logger"
)

// SignalJournal appends every cycle's signals to a ClickHouse MergeTree table.
type SignalJournal struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

func NewSignalJournal(ch *pkgch.Client, table string, l *applogger.Logger) *SignalJournal {
	if l == nil {
		l = applogger.Nop()
	}
	return &SignalJournal{ch: ch, table: table, l: l.Component("signal-journal")}
}

// JournalSchema returns the idempotent DDL for the journal table.
func JournalSchema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            cycle_id     UInt64,
            symbol       LowCardinality(String),
            timeframe    LowCardinality(String),
            direction    LowCardinality(String),
            confidence   UInt8,
            entry        Float64,
            stop_loss    Float64,
            take_profit  Float64,
            score        Float64,
            agreement    Float64,
            stale        Bool,
            snapshot_at  DateTime64(3, 'UTC'),
            generated_at DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(generated_at)
        ORDER BY (symbol, timeframe, generated_at)`, table),
	}
}

func (j *SignalJournal) Name() string { return "clickhouse" }

func (j *SignalJournal) Publish(ctx context.Context, result *models.CycleResult) error {
	if result == nil || len(result.Signals) == 0 {
		return nil
	}
	start := time.Now()
	q := fmt.Sprintf(`INSERT INTO %s (cycle_id, symbol, timeframe, direction, confidence, entry,
        stop_loss, take_profit, score, agreement, stale, snapshot_at, generated_at)`, j.table)

	rows := make([][]any, 0, len(result.Signals))
	for _, s := range result.Signals {
		rows = append(rows, []any{
			s.CycleID,
			s.Symbol,
			s.Timeframe,
			string(s.Direction),
			uint8(s.Confidence),
			s.Entry,
			s.StopLoss,
			s.TakeProfit,
			s.Score,
			s.Agreement,
			s.Stale,
			s.SnapshotAt.UTC(),
			s.GeneratedAt.UTC(),
		})
	}
	if err := j.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("journal cycle %d: %w", result.Summary.ID, err)
	}
	j.l.Debug("journal write ok",
		applogger.Uint64("cycle_id", result.Summary.ID),
		applogger.Int("rows", len(rows)),
		applogger.Duration("duration", time.Since(start)),
	)
	return nil
}

// Recent returns the latest n journaled signals for a key, oldest first.
func (j *SignalJournal) Recent(ctx context.Context, symbol, timeframe string, n int) ([]models.SignalEvent, error) {
	const qtpl = `
        SELECT cycle_id, symbol, timeframe, direction, confidence, entry, stop_loss, take_profit, stale, generated_at
        FROM %s
        WHERE symbol = ? AND timeframe = ?
        ORDER BY generated_at DESC
        LIMIT ?
    `
	rows, err := j.ch.DB().QueryContext(ctx, fmt.Sprintf(qtpl, j.table), symbol, timeframe, n)
	if err != nil {
		j.l.Error("journal query error",
			applogger.String("symbol", symbol),
			applogger.String("timeframe", timeframe),
			applogger.Error(err),
		)
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]models.SignalEvent, 0, n)
	for rows.Next() {
		var (
			e          models.SignalEvent
			direction  string
			confidence uint8
		)
		if err := rows.Scan(&e.CycleID, &e.Symbol, &e.Timeframe, &direction, &confidence,
			&e.Entry, &e.StopLoss, &e.TakeProfit, &e.Stale, &e.GeneratedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Direction = models.Direction(direction)
		e.Confidence = int(confidence)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}
