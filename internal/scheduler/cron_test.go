package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsconductor/opsconductor/internal/auditctx"
)

// withIdentity is shared by scheduler_test.go.
func withIdentity(ctx context.Context) context.Context {
	return auditctx.With(ctx, auditctx.Identity{
		RequestID: "req-1",
		UserID:    "u-1",
		Username:  "ops-admin",
	})
}

func mustParse(t *testing.T, expr string) *CronSchedule {
	t.Helper()
	c, err := ParseCron(expr)
	require.NoError(t, err)
	return c
}

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func TestCronEveryMinute(t *testing.T) {
	c := mustParse(t, "* * * * *")
	next := c.Next(at(2026, 6, 1, 12, 30))
	assert.Equal(t, at(2026, 6, 1, 12, 31), next)
}

func TestCronDailyAtThree(t *testing.T) {
	c := mustParse(t, "0 3 * * *")
	assert.Equal(t, at(2026, 6, 1, 3, 0), c.Next(at(2026, 6, 1, 1, 0)))
	assert.Equal(t, at(2026, 6, 2, 3, 0), c.Next(at(2026, 6, 1, 3, 0)))
}

func TestCronStep(t *testing.T) {
	c := mustParse(t, "*/15 * * * *")
	assert.Equal(t, at(2026, 6, 1, 12, 45), c.Next(at(2026, 6, 1, 12, 31)))
	assert.Equal(t, at(2026, 6, 1, 13, 0), c.Next(at(2026, 6, 1, 12, 45)))
}

func TestCronRangeAndList(t *testing.T) {
	c := mustParse(t, "0 9-17 * * 1,2,3,4,5")
	// Friday 2026-06-05 18:00 → Monday 2026-06-08 09:00.
	assert.Equal(t, at(2026, 6, 8, 9, 0), c.Next(at(2026, 6, 5, 18, 0)))
}

func TestCronDayOfMonth(t *testing.T) {
	c := mustParse(t, "30 0 15 * *")
	assert.Equal(t, at(2026, 6, 15, 0, 30), c.Next(at(2026, 6, 1, 0, 0)))
	assert.Equal(t, at(2026, 7, 15, 0, 30), c.Next(at(2026, 6, 15, 0, 30)))
}

func TestCronMonthRollover(t *testing.T) {
	c := mustParse(t, "0 0 1 1 *")
	assert.Equal(t, at(2027, 1, 1, 0, 0), c.Next(at(2026, 3, 1, 0, 0)))
}

func TestCronDomDowEitherMatches(t *testing.T) {
	// Both restricted: the 13th OR a Friday.
	c := mustParse(t, "0 0 13 * 5")
	// 2026-02-06 is a Friday before the 13th.
	assert.Equal(t, at(2026, 2, 6, 0, 0), c.Next(at(2026, 2, 1, 0, 0)))
}

func TestCronRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{
		"",
		"* * * *",
		"60 * * * *",
		"* 24 * * *",
		"a * * * *",
		"*/0 * * * *",
		"5-1 * * * *",
	} {
		_, err := ParseCron(expr)
		assert.Error(t, err, "expression %q", expr)
	}
}
