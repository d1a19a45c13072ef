package store

import (
	"context"
	"fmt"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sightings/internal/model"
)

// ErrScoreRange is returned when a trust score outside [0,1] is written.
var ErrScoreRange = eris.New("store: trust score must be within [0,1]")

// Store defines the persistence interface for report numbers, trust scores
// and request metadata.
type Store interface {
	// ReportNumber returns the number for the given coordinates, allocating
	// one on first use. Repeated calls with the same coordinates return the
	// same number.
	ReportNumber(ctx context.Context, lat, lon float64) (string, error)

	// Trust scores
	TrustScore(ctx context.Context, accountID string) (float64, bool, error)
	SetTrustScore(ctx context.Context, accountID string, score float64) error

	// RecordRequestMetadata stores meta under key. A second write with the
	// same key is ignored.
	RecordRequestMetadata(ctx context.Context, key, accountID string, meta model.RequestMetadata) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// CoordKey returns the de-duplication key for a coordinate pair, rounded to
// five decimal places (about a metre).
func CoordKey(lat, lon float64) string {
	return fmt.Sprintf("%.5f,%.5f", round5(lat), round5(lon))
}

func round5(v float64) float64 {
	r := math.Round(v*1e5) / 1e5
	if r == 0 {
		// Normalize negative zero.
		return 0
	}
	return r
}

// FormatReportNumber renders an allocated sequence value.
func FormatReportNumber(id int64) string {
	return fmt.Sprintf("RPT-%06d", id)
}

func checkScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 1 {
		return eris.Wrapf(ErrScoreRange, "store: score %v", score)
	}
	return nil
}
