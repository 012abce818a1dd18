package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// PriceWriter upserts normalized items inside one transaction per item.
// Partial writes for an item are never visible: any failure rolls the whole
// item back.
type PriceWriter struct {
	db     DB
	clock  pricesync.Clock
	logger *zap.Logger
}

// NewPriceWriter constructs a PriceWriter.
func NewPriceWriter(db DB, clock pricesync.Clock, logger *zap.Logger) *PriceWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceWriter{db: db, clock: clock, logger: logger}
}

const upsertLineSQL = `
INSERT INTO cruise_lines (id, name, is_active, created_at, updated_at)
VALUES ($1, COALESCE(NULLIF($2, ''), $3), true, $4, $4)
ON CONFLICT (id) DO UPDATE SET
	name = COALESCE(NULLIF($2, ''), cruise_lines.name),
	is_active = true,
	updated_at = $4`

const upsertShipSQL = `
INSERT INTO ships (id, cruise_line_id, name, created_at, updated_at)
VALUES ($1, $2, COALESCE(NULLIF($3, ''), $4), $5, $5)
ON CONFLICT (id) DO UPDATE SET
	cruise_line_id = $2,
	name = COALESCE(NULLIF($3, ''), ships.name),
	updated_at = $5`

const upsertSailingSQL = `
INSERT INTO cruises (id, cruise_line_id, ship_id, name, sailing_date, nights,
	is_active, needs_price_update, processing_completed_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, true, false, $7, $7, $7)
ON CONFLICT (id) DO UPDATE SET
	cruise_line_id = $2,
	ship_id = $3,
	name = COALESCE(NULLIF($4, ''), cruises.name),
	sailing_date = COALESCE($5, cruises.sailing_date),
	nights = CASE WHEN $6 > 0 THEN $6 ELSE cruises.nights END,
	is_active = true,
	needs_price_update = false,
	processing_completed_at = $7,
	updated_at = $7`

const upsertSnapshotSQL = `
INSERT INTO price_snapshots (cruise_id, interior_price, oceanview_price,
	balcony_price, suite_price, cheapest_price, currency, price_codes, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (cruise_id) DO UPDATE SET
	interior_price = $2,
	oceanview_price = $3,
	balcony_price = $4,
	suite_price = $5,
	cheapest_price = $6,
	currency = $7,
	price_codes = $8,
	updated_at = $9`

// WriteItem upserts line, ship, sailing, and price snapshot for one item.
func (w *PriceWriter) WriteItem(ctx context.Context, item pricesync.NormalizedItem) error {
	now := w.clock.Now()

	snapshot := item.Prices
	// A cheapest value with every category empty is a known invalid state;
	// it is corrected here rather than persisted.
	if snapshot.Cheapest != nil &&
		snapshot.Interior == nil && snapshot.Oceanview == nil &&
		snapshot.Balcony == nil && snapshot.Suite == nil {
		w.logger.Warn("dropping cheapest with no category prices",
			zap.String("sailing_id", snapshot.SailingID),
		)
		snapshot.Cheapest = nil
	}

	var codesJSON []byte
	if len(snapshot.PriceCodes) > 0 {
		var err error
		codesJSON, err = json.Marshal(snapshot.PriceCodes)
		if err != nil {
			return fmt.Errorf("marshal price codes: %w", err)
		}
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			w.logger.Debug("rollback", zap.Error(rbErr))
		}
	}()

	linePlaceholder := fmt.Sprintf("Line %d", item.Line.ID)
	if _, err := tx.Exec(ctx, upsertLineSQL, item.Line.ID, item.Line.Name, linePlaceholder, now); err != nil {
		return fmt.Errorf("upsert line %d: %w", item.Line.ID, err)
	}

	shipPlaceholder := fmt.Sprintf("Ship %d", item.Ship.ID)
	if _, err := tx.Exec(ctx, upsertShipSQL, item.Ship.ID, item.Ship.LineID, item.Ship.Name, shipPlaceholder, now); err != nil {
		return fmt.Errorf("upsert ship %d: %w", item.Ship.ID, err)
	}

	var sailDate *time.Time
	if !item.Sailing.DepartureDate.IsZero() {
		d := item.Sailing.DepartureDate
		sailDate = &d
	}
	if _, err := tx.Exec(ctx, upsertSailingSQL,
		item.Sailing.ID, item.Sailing.LineID, item.Sailing.ShipID,
		item.Sailing.Name, sailDate, item.Sailing.Nights, now,
	); err != nil {
		return fmt.Errorf("upsert sailing %s: %w", item.Sailing.ID, err)
	}

	if _, err := tx.Exec(ctx, upsertSnapshotSQL,
		item.Sailing.ID,
		snapshot.Interior, snapshot.Oceanview, snapshot.Balcony, snapshot.Suite,
		snapshot.Cheapest, snapshot.Currency, codesJSON, now,
	); err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", item.Sailing.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit write %s: %w", item.Sailing.ID, err)
	}
	return nil
}
