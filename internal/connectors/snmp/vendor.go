package snmp

import (
	"strconv"
	"strings"

	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/rs/zerolog/log"
)

// SNMPv1 alarm traps carry their severity integer in a vendor-specific
// varbind. Each extractor knows where its vendor puts it; unknown
// vendors fall back to scanning for the first integer varbind that
// decodes to a plausible severity.

// severityScale maps the common 1..6 vendor alarm scale.
var severityScale = map[int]models.Severity{
	1: models.SeverityCritical,
	2: models.SeverityMajor,
	3: models.SeverityMinor,
	4: models.SeverityWarning,
	5: models.SeverityInfo,
	6: models.SeverityClear, // cleared
}

type severityExtractor func(varbinds map[string]string) (models.Severity, bool)

// vendorSeverityExtractors is keyed by enterprise OID prefix.
var vendorSeverityExtractors = map[string]severityExtractor{
	// Ciena WWP-LEOS alarm table: wwpLeosAlarmSeverity.
	"1.3.6.1.4.1.6141": oidSuffixExtractor("1.3.6.1.4.1.6141.2.60.5.1.1.2"),
	// Ciena CES.
	"1.3.6.1.4.1.1271": oidSuffixExtractor("1.3.6.1.4.1.1271.2.1.6.1.1.2"),
	// Eaton xUPS alarm entries: xupsAlarmDescr values arrive as the
	// alarm integer in the first alarm-table varbind.
	"1.3.6.1.4.1.534": oidSuffixExtractor("1.3.6.1.4.1.534.1.7"),
}

func oidSuffixExtractor(prefix string) severityExtractor {
	return func(varbinds map[string]string) (models.Severity, bool) {
		for oid, value := range varbinds {
			if !strings.HasPrefix(oid, prefix) {
				continue
			}
			if sev, ok := parseSeverityValue(value); ok {
				return sev, true
			}
		}
		return "", false
	}
}

// ExtractSeverity resolves the alarm severity for a trap given its
// enterprise OID and varbinds.
func ExtractSeverity(enterpriseOID string, varbinds map[string]string) models.Severity {
	for prefix, extract := range vendorSeverityExtractors {
		if strings.HasPrefix(enterpriseOID, prefix) {
			if sev, ok := extract(varbinds); ok {
				return sev
			}
			break
		}
	}
	// Generic fallback: first integer varbind on the 1..6 scale.
	for oid, value := range varbinds {
		if sev, ok := parseSeverityValue(value); ok {
			log.Debug().Str("oid", oid).Str("value", value).Msg("Severity from generic varbind scan")
			return sev
		}
	}
	return models.SeverityWarning
}

func parseSeverityValue(value string) (models.Severity, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	sev, ok := severityScale[n]
	return sev, ok
}
