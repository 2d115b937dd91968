package mapping

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	mu       sync.Mutex
	severity []models.MappingRow
	category []models.MappingRow
	trap     []models.MappingRow
	loads    int
	err      error
}

func (s *stubLoader) LoadSeverityMappings(context.Context) ([]models.MappingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	return s.severity, s.err
}
func (s *stubLoader) LoadCategoryMappings(context.Context) ([]models.MappingRow, error) {
	return s.category, s.err
}
func (s *stubLoader) LoadTrapMappings(context.Context) ([]models.MappingRow, error) {
	return s.trap, s.err
}

func TestEmptyCacheMisses(t *testing.T) {
	c := New(&stubLoader{})

	_, ok := c.Severity("prtg", "statusid", "5")
	assert.False(t, ok)
	_, ok = c.Trap("1.3.6.1.6.3.1.1.5.3")
	assert.False(t, ok)
	assert.False(t, c.TrapEnabled("1.3.6.1.6.3.1.1.5.3"))
}

func TestRefreshInstallsSnapshot(t *testing.T) {
	loader := &stubLoader{
		severity: []models.MappingRow{
			{ConnectorType: "prtg", SourceField: "statusid", SourceValue: "5", TargetSeverity: models.SeverityCritical},
		},
		category: []models.MappingRow{
			{ConnectorType: "prtg", SourceField: "type", SourceValue: "ping", TargetCategory: models.CategoryNetwork},
		},
		trap: []models.MappingRow{
			{TrapOID: "1.3.6.1.6.3.1.1.5.3", AlertType: "link_down"},
		},
	}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background()))

	sev, ok := c.Severity("prtg", "statusid", "5")
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, sev)

	cat, ok := c.Category("prtg", "type", "ping")
	require.True(t, ok)
	assert.Equal(t, models.CategoryNetwork, cat)

	row, ok := c.Trap("1.3.6.1.6.3.1.1.5.3")
	require.True(t, ok)
	assert.Equal(t, "link_down", row.AlertType)
	assert.True(t, c.TrapEnabled("1.3.6.1.6.3.1.1.5.3"))
	assert.False(t, c.LoadedAt().IsZero())
}

func TestHighestPriorityRowWins(t *testing.T) {
	// Loader returns rows ordered priority DESC, as the store does.
	loader := &stubLoader{
		severity: []models.MappingRow{
			{ConnectorType: "prtg", SourceField: "statusid", SourceValue: "5", TargetSeverity: models.SeverityMajor, Priority: 10},
			{ConnectorType: "prtg", SourceField: "statusid", SourceValue: "5", TargetSeverity: models.SeverityCritical, Priority: 0},
		},
	}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background()))

	sev, ok := c.Severity("prtg", "statusid", "5")
	require.True(t, ok)
	assert.Equal(t, models.SeverityMajor, sev)
}

func TestTrapEnabledViaSeverityMapping(t *testing.T) {
	loader := &stubLoader{
		severity: []models.MappingRow{
			{ConnectorType: "snmp_trap", SourceField: "trap_oid", SourceValue: "1.3.6.1.4.1.6141.2.60.5.0.1", TargetSeverity: models.SeverityCritical},
		},
	}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background()))

	assert.True(t, c.TrapEnabled("1.3.6.1.4.1.6141.2.60.5.0.1"))
	assert.False(t, c.TrapEnabled("1.3.6.1.4.1.99999.0.1"))
}

func TestRefreshFailureKeepsOldSnapshot(t *testing.T) {
	loader := &stubLoader{
		severity: []models.MappingRow{
			{ConnectorType: "prtg", SourceField: "statusid", SourceValue: "5", TargetSeverity: models.SeverityCritical},
		},
	}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background()))

	loader.err = errors.New("db gone")
	require.Error(t, c.Refresh(context.Background()))

	// Readers still see the last good snapshot.
	sev, ok := c.Severity("prtg", "statusid", "5")
	require.True(t, ok)
	assert.Equal(t, models.SeverityCritical, sev)
}

func TestConcurrentReadersDuringRefresh(t *testing.T) {
	loader := &stubLoader{
		severity: []models.MappingRow{
			{ConnectorType: "prtg", SourceField: "statusid", SourceValue: "5", TargetSeverity: models.SeverityCritical},
		},
	}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if sev, ok := c.Severity("prtg", "statusid", "5"); ok {
					assert.Equal(t, models.SeverityCritical, sev)
				}
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Refresh(context.Background())
		}()
	}
	wg.Wait()
}
