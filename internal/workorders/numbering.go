package workorders

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-mfg/internal/platform/docstore"
)

// NumberPrefix starts every work-order number.
const NumberPrefix = "WO"

// NumberGenerator hands out WO/YY/MM/DD/NNNNN numbers. NNNNN restarts every
// calendar day in loc and comes from an atomic per-day counter seeded with
// the number of work orders already created that day.
type NumberGenerator struct {
	counter  docstore.Counter
	countDay func(ctx context.Context, from, to time.Time) (int, error)
	loc      *time.Location
}

// NewNumberGenerator builds a generator. countDay must return how many work
// orders were created in [from, to).
func NewNumberGenerator(counter docstore.Counter, countDay func(ctx context.Context, from, to time.Time) (int, error), loc *time.Location) *NumberGenerator {
	if loc == nil {
		loc = time.UTC
	}
	return &NumberGenerator{counter: counter, countDay: countDay, loc: loc}
}

// Next returns the next number for the day containing now.
func (g *NumberGenerator) Next(ctx context.Context, now time.Time) (string, error) {
	local := now.In(g.loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	prefix := FormatDayPrefix(local)

	seq, err := g.counter.Next(ctx, "workorders:"+prefix, func(ctx context.Context) (int64, error) {
		if g.countDay == nil {
			return 0, nil
		}
		n, err := g.countDay(ctx, dayStart, dayEnd)
		return int64(n), err
	})
	if err != nil {
		return "", fmt.Errorf("next work order number: %w", err)
	}
	return fmt.Sprintf("%s/%05d", prefix, seq), nil
}

// FormatDayPrefix renders WO/YY/MM/DD for t in t's location.
func FormatDayPrefix(t time.Time) string {
	return fmt.Sprintf("%s/%02d/%02d/%02d", NumberPrefix, t.Year()%100, int(t.Month()), t.Day())
}
