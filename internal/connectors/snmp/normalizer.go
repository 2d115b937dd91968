// Package snmp covers both SNMP ingest paths: normalization of
// received traps into the canonical alert, and outbound polling of
// Ciena/Eaton gear. Classification is driven by the same database
// mapping tables as every other connector.
package snmp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/opsconductor/opsconductor/internal/ipresolve"
	"github.com/opsconductor/opsconductor/internal/mapping"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/rs/zerolog/log"
)

// TrapData is the decoded-trap shape handed to the normalizer by the
// trap receiver.
type TrapData struct {
	SourceIP      string            `json:"source_ip"`
	TrapOID       string            `json:"trap_oid"`
	EnterpriseOID string            `json:"enterprise_oid"`
	Varbinds      map[string]string `json:"varbinds"`
	Timestamp     time.Time         `json:"timestamp"`
	Community     string            `json:"community"`
	// CorrelationKey carries the vendor handler's alarm key so the
	// fingerprint matches across a raise and its clear.
	CorrelationKey string `json:"correlation_key,omitempty"`
	IsClear        bool   `json:"is_clear"`
}

// Standard trap fallbacks, used only when a severity mapping opted the
// OID in but no trap-specific row refines it.
var standardTraps = map[string]struct {
	alertType string
	severity  models.Severity
	category  models.Category
	isClear   bool
}{
	"1.3.6.1.6.3.1.1.5.1": {"cold_start", models.SeverityWarning, models.CategoryNetwork, false},
	"1.3.6.1.6.3.1.1.5.2": {"warm_start", models.SeverityInfo, models.CategoryNetwork, false},
	"1.3.6.1.6.3.1.1.5.3": {"link_down", models.SeverityMajor, models.CategoryNetwork, false},
	"1.3.6.1.6.3.1.1.5.4": {"link_up", models.SeverityClear, models.CategoryNetwork, true},
	"1.3.6.1.6.3.1.1.5.5": {"auth_failure", models.SeverityWarning, models.CategorySecurity, false},
	"1.3.6.1.6.3.1.1.5.6": {"egp_neighbor_loss", models.SeverityWarning, models.CategoryNetwork, false},
}

// Normalizer converts decoded traps to NormalizedAlerts. Unmapped
// traps return nil: operators add mapping rows to opt a trap in.
type Normalizer struct {
	mappings *mapping.Cache
	resolver *ipresolve.Resolver
	now      func() time.Time
}

func NewNormalizer(mappings *mapping.Cache, resolver *ipresolve.Resolver) *Normalizer {
	return &Normalizer{
		mappings: mappings,
		resolver: resolver,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled reports whether any mapping row opts this trap OID in.
func (n *Normalizer) Enabled(trapOID string) bool {
	return n.mappings.TrapEnabled(trapOID)
}

// Normalize returns nil (no error) for traps no mapping opted in.
func (n *Normalizer) Normalize(ctx context.Context, trap TrapData) (*models.NormalizedAlert, error) {
	if !n.Enabled(trap.TrapOID) {
		log.Debug().Str("trap_oid", trap.TrapOID).Msg("Skipping unmapped SNMP trap")
		return nil, nil
	}

	deviceIP, err := n.resolver.Resolve(ctx, trap.SourceIP, "")
	if err != nil {
		log.Warn().Str("source_ip", trap.SourceIP).Msg("Dropping SNMP trap: missing device_ip")
		return nil, nil
	}

	trapRow, hasTrapRow := n.mappings.Trap(trap.TrapOID)

	alertType := fmt.Sprintf("snmp_%s", strings.ReplaceAll(trap.TrapOID, ".", "_"))
	isClear := trap.IsClear
	title := fmt.Sprintf("SNMP Trap - %s", trap.TrapOID)
	if hasTrapRow {
		if trapRow.AlertType != "" {
			alertType = trapRow.AlertType
		}
		isClear = trapRow.IsClear
		if trapRow.Description != "" {
			title = fmt.Sprintf("SNMP Trap - %s", trapRow.Description)
		} else {
			title = fmt.Sprintf("SNMP Trap - %s", alertType)
		}
	} else if std, ok := standardTraps[trap.TrapOID]; ok {
		alertType = std.alertType
		isClear = std.isClear
		title = fmt.Sprintf("SNMP Trap - %s", std.alertType)
	}

	severity := models.SeverityWarning
	if sev, found := n.mappings.Severity("snmp_trap", "trap_oid", trap.TrapOID); found {
		severity = sev
	} else if hasTrapRow && trapRow.TargetSeverity != "" {
		severity = trapRow.TargetSeverity
	} else if std, ok := standardTraps[trap.TrapOID]; ok {
		severity = std.severity
	}
	if isClear {
		severity = models.SeverityClear
	}

	category := models.CategoryNetwork
	if cat, found := n.mappings.Category("snmp_trap", "trap_oid", trap.TrapOID); found {
		category = cat
	} else if hasTrapRow && trapRow.TargetCategory != "" {
		category = trapRow.TargetCategory
	} else if std, ok := standardTraps[trap.TrapOID]; ok {
		category = std.category
	}

	occurredAt := trap.Timestamp
	if occurredAt.IsZero() {
		occurredAt = n.now()
	}

	raw, _ := json.Marshal(trap)
	return &models.NormalizedAlert{
		SourceSystem:  "snmp",
		SourceAlertID: fmt.Sprintf("%s:%s:%d", trap.SourceIP, trap.TrapOID, occurredAt.Unix()),
		DeviceIP:      deviceIP,
		Severity:      severity,
		Category:      category,
		AlertType:     alertType,
		Title:         title,
		Message:       formatVarbinds(trap),
		OccurredAt:    occurredAt,
		IsClear:       isClear,
		RawData:       raw,
		Fingerprint:   n.fingerprint(trap, trapRow, hasTrapRow, alertType),
	}, nil
}

// fingerprint prefers the mapping row's correlation_key, then the
// vendor handler's alarm key, then the alert type; the chosen key is
// what makes a raise and its clear collapse.
func (n *Normalizer) fingerprint(trap TrapData, row models.MappingRow, hasRow bool, alertType string) string {
	key := trap.CorrelationKey
	if hasRow && row.CorrelationKey != "" {
		key = row.CorrelationKey
	}
	if key == "" {
		key = alertType
	}
	if strings.HasPrefix(key, trap.SourceIP+":") {
		// The vendor handler's alarm key already carries the device.
		return models.Fingerprint("snmp", key)
	}
	return models.Fingerprint("snmp", trap.SourceIP+":"+key)
}

func formatVarbinds(trap TrapData) string {
	lines := []string{}
	if trap.SourceIP != "" {
		lines = append(lines, "Device: "+trap.SourceIP)
	}
	if trap.TrapOID != "" {
		lines = append(lines, "Trap: "+trap.TrapOID)
	}

	oids := make([]string, 0, len(trap.Varbinds))
	for oid := range trap.Varbinds {
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	if len(oids) > 10 {
		oids = oids[:10]
	}
	for _, oid := range oids {
		parts := strings.Split(oid, ".")
		short := oid
		if len(parts) > 3 {
			short = strings.Join(parts[len(parts)-3:], ".")
		}
		lines = append(lines, fmt.Sprintf("%s: %s", short, trap.Varbinds[oid]))
	}
	if len(lines) == 0 {
		return "SNMP trap from " + trap.SourceIP
	}
	return strings.Join(lines, " | ")
}
