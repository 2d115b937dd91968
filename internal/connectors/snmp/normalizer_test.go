package snmp

import (
	"context"
	"testing"
	"time"

	"github.com/opsconductor/opsconductor/internal/ipresolve"
	"github.com/opsconductor/opsconductor/internal/mapping"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	severity []models.MappingRow
	category []models.MappingRow
	trap     []models.MappingRow
}

func (s *stubLoader) LoadSeverityMappings(context.Context) ([]models.MappingRow, error) {
	return s.severity, nil
}
func (s *stubLoader) LoadCategoryMappings(context.Context) ([]models.MappingRow, error) {
	return s.category, nil
}
func (s *stubLoader) LoadTrapMappings(context.Context) ([]models.MappingRow, error) {
	return s.trap, nil
}

func newTestNormalizer(t *testing.T, loader *stubLoader) *Normalizer {
	t.Helper()
	if loader == nil {
		loader = &stubLoader{}
	}
	cache := mapping.New(loader)
	require.NoError(t, cache.Refresh(context.Background()))
	return NewNormalizer(cache, ipresolve.New())
}

func linkMappings() *stubLoader {
	return &stubLoader{
		trap: []models.MappingRow{
			{TrapOID: "1.3.6.1.6.3.1.1.5.3", AlertType: "link_down", TargetSeverity: models.SeverityMajor,
				TargetCategory: models.CategoryNetwork, Vendor: "generic"},
			{TrapOID: "1.3.6.1.6.3.1.1.5.4", AlertType: "link_up", IsClear: true,
				TargetCategory: models.CategoryNetwork, Vendor: "generic"},
		},
	}
}

func TestUnmappedTrapDropped(t *testing.T) {
	n := newTestNormalizer(t, nil)

	alert, err := n.Normalize(context.Background(), TrapData{
		SourceIP: "10.2.2.2",
		TrapOID:  "1.3.6.1.4.1.99999.0.1",
	})
	require.NoError(t, err)
	assert.Nil(t, alert)
	assert.False(t, n.Enabled("1.3.6.1.4.1.99999.0.1"))
}

func TestLinkDownLinkUpCorrelate(t *testing.T) {
	n := newTestNormalizer(t, linkMappings())
	ctx := context.Background()

	down, err := n.Normalize(ctx, TrapData{
		SourceIP:       "10.2.2.2",
		TrapOID:        "1.3.6.1.6.3.1.1.5.3",
		Varbinds:       map[string]string{"1.3.6.1.2.1.2.2.1.1.3": "3"},
		CorrelationKey: "10.2.2.2:link:3",
	})
	require.NoError(t, err)
	require.NotNil(t, down)

	up, err := n.Normalize(ctx, TrapData{
		SourceIP:       "10.2.2.2",
		TrapOID:        "1.3.6.1.6.3.1.1.5.4",
		Varbinds:       map[string]string{"1.3.6.1.2.1.2.2.1.1.3": "3"},
		CorrelationKey: "10.2.2.2:link:3",
		IsClear:        true,
	})
	require.NoError(t, err)
	require.NotNil(t, up)

	// The exact digest from the correlation contract.
	assert.Equal(t, models.Fingerprint("snmp", "10.2.2.2:link:3"), down.Fingerprint)
	assert.Equal(t, down.Fingerprint, up.Fingerprint)
	assert.False(t, down.IsClear)
	assert.True(t, up.IsClear)
	assert.Equal(t, models.SeverityMajor, down.Severity)
	assert.Equal(t, models.SeverityClear, up.Severity)
	assert.Equal(t, "link_down", down.AlertType)
	assert.Equal(t, "link_up", up.AlertType)
}

func TestSeverityMappingOptsTrapIn(t *testing.T) {
	loader := &stubLoader{
		severity: []models.MappingRow{{
			ConnectorType:  "snmp_trap",
			SourceField:    "trap_oid",
			SourceValue:    "1.3.6.1.4.1.6141.2.60.5.0.1",
			TargetSeverity: models.SeverityCritical,
		}},
	}
	n := newTestNormalizer(t, loader)

	alert, err := n.Normalize(context.Background(), TrapData{
		SourceIP: "10.3.3.3",
		TrapOID:  "1.3.6.1.4.1.6141.2.60.5.0.1",
	})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
	assert.Equal(t, "snmp_1_3_6_1_4_1_6141_2_60_5_0_1", alert.AlertType)
}

func TestMappingCorrelationKeyOverridesHandlerKey(t *testing.T) {
	loader := &stubLoader{
		trap: []models.MappingRow{{
			TrapOID:        "1.3.6.1.4.1.6141.2.60.5.0.1",
			AlertType:      "ciena_alarm",
			CorrelationKey: "chassis_alarm",
		}},
	}
	n := newTestNormalizer(t, loader)

	alert, err := n.Normalize(context.Background(), TrapData{
		SourceIP:       "10.3.3.3",
		TrapOID:        "1.3.6.1.4.1.6141.2.60.5.0.1",
		CorrelationKey: "10.3.3.3:alarm:77",
	})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, models.Fingerprint("snmp", "10.3.3.3:chassis_alarm"), alert.Fingerprint)
}

func TestClearForcesClearSeverity(t *testing.T) {
	n := newTestNormalizer(t, linkMappings())

	up, err := n.Normalize(context.Background(), TrapData{
		SourceIP: "10.2.2.2",
		TrapOID:  "1.3.6.1.6.3.1.1.5.4",
	})
	require.NoError(t, err)
	require.NotNil(t, up)
	assert.Equal(t, models.SeverityClear, up.Severity)
	assert.True(t, up.IsClear)
}

func TestTimestampPreserved(t *testing.T) {
	n := newTestNormalizer(t, linkMappings())
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	alert, err := n.Normalize(context.Background(), TrapData{
		SourceIP:  "10.2.2.2",
		TrapOID:   "1.3.6.1.6.3.1.1.5.3",
		Timestamp: at,
	})
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, at, alert.OccurredAt)
}

func TestExtractSeverityCiena(t *testing.T) {
	sev := ExtractSeverity("1.3.6.1.4.1.6141.2.60.5.0.1", map[string]string{
		"1.3.6.1.4.1.6141.2.60.5.1.1.1.12": "Port 12",
		"1.3.6.1.4.1.6141.2.60.5.1.1.2.12": "2",
		"1.3.6.1.4.1.6141.2.60.5.1.1.3.12": "Link fault",
	})
	assert.Equal(t, models.SeverityMajor, sev)
}

func TestExtractSeverityGenericScan(t *testing.T) {
	sev := ExtractSeverity("1.3.6.1.4.1.31337", map[string]string{
		"1.3.6.1.4.1.31337.1.1": "not-a-number",
		"1.3.6.1.4.1.31337.1.2": "1",
	})
	assert.Equal(t, models.SeverityCritical, sev)
}

func TestExtractSeverityDefaultsToWarning(t *testing.T) {
	sev := ExtractSeverity("1.3.6.1.4.1.31337", map[string]string{
		"1.3.6.1.4.1.31337.1.1": "text only",
	})
	assert.Equal(t, models.SeverityWarning, sev)
}
