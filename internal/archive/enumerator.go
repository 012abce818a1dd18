package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// EnumeratorConfig controls how far ahead the archive tree is walked.
type EnumeratorConfig struct {
	// BasePath is the root of the period tree, usually "/".
	BasePath string
	// MonthsAhead bounds the walk when no explicit window is given.
	MonthsAhead int
}

// TreeEnumerator lists sailing documents for one line by walking the
// /{year}/{month}/{lineId}/{shipId}/{sailingId}.json tree.
type TreeEnumerator struct {
	pool   *Pool
	cfg    EnumeratorConfig
	clock  pricesync.Clock
	logger *zap.Logger
}

// NewTreeEnumerator constructs a TreeEnumerator.
func NewTreeEnumerator(pool *Pool, cfg EnumeratorConfig, clock pricesync.Clock, logger *zap.Logger) *TreeEnumerator {
	if cfg.MonthsAhead <= 0 {
		cfg.MonthsAhead = 24
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TreeEnumerator{pool: pool, cfg: cfg, clock: clock, logger: logger}
}

// Enumerate returns a flat ordered list of sailing documents for the line.
// A missing line directory in any period means zero files for that period;
// a failed ship subtree is logged and skipped. A non-absence failure on a
// line directory aborts enumeration, which the caller treats as fatal.
func (e *TreeEnumerator) Enumerate(ctx context.Context, lineID int64, window pricesync.DateWindow) ([]pricesync.FileRef, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate line %d: %w", lineID, err)
	}
	healthy := true
	defer func() { e.pool.Release(conn, healthy) }()

	var refs []pricesync.FileRef
	for _, period := range e.periods(window) {
		linePath := e.linePath(period, lineID)
		ships, err := conn.List(ctx, linePath)
		if err != nil {
			if errors.Is(err, pricesync.ErrNotFound) {
				continue
			}
			healthy = false
			return nil, fmt.Errorf("enumerate line %d: %w", lineID, err)
		}

		for _, ship := range ships {
			if !ship.Dir {
				continue
			}
			shipID, parseErr := strconv.ParseInt(ship.Name, 10, 64)
			if parseErr != nil {
				e.logger.Debug("skipping non-numeric ship directory",
					zap.String("path", linePath),
					zap.String("name", ship.Name),
				)
				continue
			}
			shipPath := linePath + "/" + ship.Name
			files, listErr := conn.List(ctx, shipPath)
			if listErr != nil {
				if errors.Is(listErr, pricesync.ErrNotFound) {
					continue
				}
				e.logger.Warn("ship subtree listing failed, skipping",
					zap.Int64("line_id", lineID),
					zap.String("path", shipPath),
					zap.Error(listErr),
				)
				continue
			}
			for _, f := range files {
				if f.Dir || !strings.HasSuffix(f.Name, ".json") {
					continue
				}
				refs = append(refs, pricesync.FileRef{
					Path:      shipPath + "/" + f.Name,
					LineID:    lineID,
					ShipID:    shipID,
					SailingID: strings.TrimSuffix(f.Name, ".json"),
					Size:      f.Size,
				})
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// periods expands the window into year/month pairs, inclusive.
func (e *TreeEnumerator) periods(window pricesync.DateWindow) []time.Time {
	from := window.From
	if from.IsZero() {
		from = e.clock.Now()
	}
	from = time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)

	to := window.To
	if to.IsZero() {
		to = from.AddDate(0, e.cfg.MonthsAhead-1, 0)
	}
	to = time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []time.Time
	for cur := from; !cur.After(to); cur = cur.AddDate(0, 1, 0) {
		out = append(out, cur)
	}
	return out
}

func (e *TreeEnumerator) linePath(period time.Time, lineID int64) string {
	base := strings.TrimSuffix(e.cfg.BasePath, "/")
	return fmt.Sprintf("%s/%d/%02d/%d", base, period.Year(), int(period.Month()), lineID)
}
