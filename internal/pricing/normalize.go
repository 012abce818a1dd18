package pricing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// Config holds normalizer configuration.
type Config struct {
	// Divisors maps line IDs to a unit correction factor for lines that
	// report prices in minor-unit-scaled form (e.g. 1000 for mils).
	// Absent lines divide by 1.
	Divisors map[int64]float64
	// DefaultCurrency is used when a document carries no currency.
	DefaultCurrency string
}

// DocumentNormalizer parses sailing documents and extracts canonical
// category prices.
type DocumentNormalizer struct {
	cfg    Config
	logger *zap.Logger
}

// NewDocumentNormalizer constructs a DocumentNormalizer.
func NewDocumentNormalizer(cfg Config, logger *zap.Logger) *DocumentNormalizer {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentNormalizer{cfg: cfg, logger: logger}
}

// flexFloat decodes numbers that appear as JSON numbers or numeric strings.
type flexFloat struct {
	value float64
	set   bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("unmarshal price string: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", s, err)
		}
		f.value, f.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal price: %w", err)
	}
	f.value, f.set = v, true
	return nil
}

// categoryPrices is one extracted shape of the four canonical categories.
type categoryPrices struct {
	Interior  flexFloat `json:"inside"`
	Oceanview flexFloat `json:"outside"`
	Balcony   flexFloat `json:"balcony"`
	Suite     flexFloat `json:"suite"`
}

type nameContent struct {
	Name string `json:"name"`
}

// document is the union of the known archive document shapes. Field naming
// is inconsistent across lines, so extraction tries each shape explicitly
// instead of probing properties.
type document struct {
	LineID   int64       `json:"lineid"`
	ShipID   int64       `json:"shipid"`
	Name     string      `json:"name"`
	SailDate string      `json:"saildate"`
	Nights   int         `json:"nights"`
	Currency string      `json:"currency"`
	Line     nameContent `json:"linecontent"`
	Ship     nameContent `json:"shipcontent"`

	// Modern shape: flat cheapest-per-category fields.
	CheapestInside  flexFloat `json:"cheapestinside"`
	CheapestOutside flexFloat `json:"cheapestoutside"`
	CheapestBalcony flexFloat `json:"cheapestbalcony"`
	CheapestSuite   flexFloat `json:"cheapestsuite"`

	CheapestInsideCode  string `json:"cheapestinsidepricecode"`
	CheapestOutsideCode string `json:"cheapestoutsidepricecode"`
	CheapestBalconyCode string `json:"cheapestbalconypricecode"`
	CheapestSuiteCode   string `json:"cheapestsuitepricecode"`

	// Combined and legacy nested shapes.
	Cheapest struct {
		Combined *categoryPrices `json:"combined"`
		Prices   *categoryPrices `json:"prices"`
	} `json:"cheapest"`
}

// Normalize parses raw bytes (repairing the corruption pattern if present)
// and produces a writer-ready item. Unparseable or unrepairable payloads
// are reported with ErrUnrepairable wrapped in.
func (n *DocumentNormalizer) Normalize(ref pricesync.FileRef, raw []byte) (pricesync.NormalizedItem, error) {
	text, repaired, err := Reassemble(raw)
	if err != nil {
		return pricesync.NormalizedItem{}, fmt.Errorf("sailing %s: %w", ref.SailingID, err)
	}
	if repaired {
		n.logger.Info("repaired corrupted payload",
			zap.Int64("line_id", ref.LineID),
			zap.String("sailing_id", ref.SailingID),
		)
	}

	var doc document
	if err := json.Unmarshal(text, &doc); err != nil {
		return pricesync.NormalizedItem{}, fmt.Errorf("sailing %s: parse document: %v: %w", ref.SailingID, err, pricesync.ErrUnrepairable)
	}

	lineID := doc.LineID
	if lineID == 0 {
		lineID = ref.LineID
	}
	shipID := doc.ShipID
	if shipID == 0 {
		shipID = ref.ShipID
	}

	divisor := 1.0
	if d, ok := n.cfg.Divisors[lineID]; ok && d > 0 {
		divisor = d
	}

	interior, oceanview, balcony, suite := extractCategories(doc)
	snapshot := pricesync.PriceSnapshot{
		SailingID: ref.SailingID,
		Interior:  scaled(interior, divisor),
		Oceanview: scaled(oceanview, divisor),
		Balcony:   scaled(balcony, divisor),
		Suite:     scaled(suite, divisor),
		Currency:  firstNonEmpty(doc.Currency, n.cfg.DefaultCurrency),
	}
	snapshot.Cheapest = Cheapest(snapshot.Interior, snapshot.Oceanview, snapshot.Balcony, snapshot.Suite)
	snapshot.PriceCodes = priceCodes(doc)

	sailing := pricesync.Sailing{
		ID:     ref.SailingID,
		LineID: lineID,
		ShipID: shipID,
		Name:   doc.Name,
		Nights: doc.Nights,
		Active: true,
	}
	if dep, ok := parseSailDate(doc.SailDate); ok {
		sailing.DepartureDate = dep
	}

	return pricesync.NormalizedItem{
		Line: pricesync.CruiseLine{
			ID:     lineID,
			Name:   doc.Line.Name,
			Active: true,
		},
		Ship: pricesync.Ship{
			ID:     shipID,
			LineID: lineID,
			Name:   doc.Ship.Name,
		},
		Sailing: sailing,
		Prices:  snapshot,
	}, nil
}

// extractCategories tries the known document shapes in order: modern flat
// fields, combined cheapest block, then the legacy prices block.
func extractCategories(doc document) (flexFloat, flexFloat, flexFloat, flexFloat) {
	if anySet(doc.CheapestInside, doc.CheapestOutside, doc.CheapestBalcony, doc.CheapestSuite) {
		return doc.CheapestInside, doc.CheapestOutside, doc.CheapestBalcony, doc.CheapestSuite
	}
	if c := doc.Cheapest.Combined; c != nil && anySet(c.Interior, c.Oceanview, c.Balcony, c.Suite) {
		return c.Interior, c.Oceanview, c.Balcony, c.Suite
	}
	if p := doc.Cheapest.Prices; p != nil {
		return p.Interior, p.Oceanview, p.Balcony, p.Suite
	}
	return flexFloat{}, flexFloat{}, flexFloat{}, flexFloat{}
}

// Cheapest returns the minimum of the populated category prices, nil when
// none are populated.
func Cheapest(prices ...*float64) *float64 {
	var min *float64
	for _, p := range prices {
		if p == nil {
			continue
		}
		if min == nil || *p < *min {
			v := *p
			min = &v
		}
	}
	return min
}

// scaled applies the per-line unit divisor. Zero and negative prices mean
// the category is not offered, never free.
func scaled(f flexFloat, divisor float64) *float64 {
	if !f.set || f.value <= 0 {
		return nil
	}
	v := f.value / divisor
	return &v
}

func anySet(prices ...flexFloat) bool {
	for _, p := range prices {
		if p.set {
			return true
		}
	}
	return false
}

func priceCodes(doc document) map[string]string {
	codes := make(map[string]string)
	for category, code := range map[string]string{
		"interior":  doc.CheapestInsideCode,
		"oceanview": doc.CheapestOutsideCode,
		"balcony":   doc.CheapestBalconyCode,
		"suite":     doc.CheapestSuiteCode,
	} {
		if code != "" {
			codes[category] = code
		}
	}
	if len(codes) == 0 {
		return nil
	}
	return codes
}

func parseSailDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
