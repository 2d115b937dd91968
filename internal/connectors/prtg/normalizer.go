// Package prtg ingests PRTG Network Monitor alerts over webhook and
// polling, normalizing both payload shapes into the canonical alert.
package prtg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opsconductor/opsconductor/internal/ipresolve"
	"github.com/opsconductor/opsconductor/internal/mapping"
	"github.com/opsconductor/opsconductor/internal/models"
	"github.com/rs/zerolog/log"
)

// PRTG status codes. Mapping rows in severity_mappings override these
// per deployment; the table below is the embedded fallback.
var severityByStatusID = map[int]models.Severity{
	1:  models.SeverityWarning,  // Unknown
	2:  models.SeverityInfo,     // Scanning
	3:  models.SeverityClear,    // Up
	4:  models.SeverityWarning,  // Warning
	5:  models.SeverityCritical, // Down
	6:  models.SeverityMajor,    // No Probe
	7:  models.SeverityInfo,     // Paused by User
	8:  models.SeverityInfo,     // Paused by Dependency
	9:  models.SeverityInfo,     // Paused by Schedule
	10: models.SeverityWarning,  // Unusual
	11: models.SeverityWarning,  // Not Licensed
	12: models.SeverityInfo,     // Paused Until
	13: models.SeverityMajor,    // Down (Acknowledged)
	14: models.SeverityMajor,    // Down (Partial)
}

var severityByStatusText = map[string]models.Severity{
	"up":      models.SeverityClear,
	"down":    models.SeverityCritical,
	"warning": models.SeverityWarning,
	"unusual": models.SeverityWarning,
	"paused":  models.SeverityInfo,
	"unknown": models.SeverityWarning,
}

var categoryByKeyword = []struct {
	keyword  string
	category models.Category
}{
	{"ping", models.CategoryNetwork},
	{"snmp", models.CategoryNetwork},
	{"bandwidth", models.CategoryNetwork},
	{"traffic", models.CategoryNetwork},
	{"port", models.CategoryNetwork},
	{"cpu", models.CategoryCompute},
	{"memory", models.CategoryCompute},
	{"wmi", models.CategoryCompute},
	{"vmware", models.CategoryCompute},
	{"disk", models.CategoryStorage},
	{"http", models.CategoryApplication},
	{"ssl", models.CategorySecurity},
	{"ups", models.CategoryPower},
	{"temperature", models.CategoryEnvironment},
	{"humidity", models.CategoryEnvironment},
}

var datetimeFormats = []string{
	"01/02/2006 3:04:05 PM",
	"01/02/2006 15:04:05",
	"02/01/2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
}

// Normalizer converts PRTG webhook and polled-sensor payloads into
// NormalizedAlerts. Database mappings take precedence over the
// embedded tables.
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

// Normalize handles both the webhook shape (sensorid) and the polled
// shape (objid). A nil return with nil error means the payload was
// dropped (missing device IP).
func (n *Normalizer) Normalize(ctx context.Context, raw map[string]any) (*models.NormalizedAlert, error) {
	switch {
	case raw["sensorid"] != nil:
		return n.normalizeWebhook(ctx, raw)
	case raw["objid"] != nil:
		return n.normalizePoll(ctx, raw)
	default:
		return nil, fmt.Errorf("prtg: unknown payload format")
	}
}

func (n *Normalizer) normalizeWebhook(ctx context.Context, raw map[string]any) (*models.NormalizedAlert, error) {
	sensorID := asString(raw["sensorid"])
	deviceName := asString(raw["device"])
	sensorName := firstNonEmpty(asString(raw["sensor"]), asString(raw["name"]), asString(raw["message"]))
	status := strings.ToLower(asString(raw["status"]))
	host := asString(raw["host"])

	deviceIP, err := n.resolver.Resolve(ctx, host, deviceName)
	if err != nil {
		log.Warn().Str("host", host).Str("device", deviceName).Msg("Dropping PRTG alert: missing device_ip")
		return nil, nil
	}

	severity := n.severity(raw)
	isClear := status == "up" || severity == models.SeverityClear
	slug := sensorSlug(sensorName)

	title := fmt.Sprintf("PRTG Alert - %s", titleCase(status))
	if sensorName != "" {
		title = fmt.Sprintf("%s - %s", sensorName, titleCase(status))
	}

	return &models.NormalizedAlert{
		SourceSystem:  "prtg",
		SourceAlertID: sensorID,
		DeviceIP:      deviceIP,
		DeviceName:    firstNonEmpty(deviceName, host),
		Severity:      severity,
		Category:      n.category(raw, slug),
		AlertType:     fmt.Sprintf("prtg_%s_%s", slug, statusSlug(status)),
		Title:         title,
		Message:       asString(raw["message"]),
		OccurredAt:    n.parseDatetime(asString(raw["datetime"])),
		IsClear:       isClear,
		RawData:       encodeRaw(raw),
		Fingerprint:   n.fingerprint(deviceIP, slug),
	}, nil
}

func (n *Normalizer) normalizePoll(ctx context.Context, raw map[string]any) (*models.NormalizedAlert, error) {
	sensorID := asString(raw["objid"])
	deviceName := asString(raw["device"])
	sensorName := asString(raw["sensor"])
	host := asString(raw["host"])

	statusText := strings.ToLower(asString(raw["status"]))
	if id, ok := asInt(raw["status_raw"]); ok {
		statusText = statusCodeText(id)
	}

	deviceIP, err := n.resolver.Resolve(ctx, host, deviceName)
	if err != nil {
		log.Warn().Str("host", host).Str("device", deviceName).Msg("Dropping PRTG sensor: missing device_ip")
		return nil, nil
	}

	severity := n.severity(raw)
	isClear := statusText == "up" || severity == models.SeverityClear
	slug := sensorSlug(sensorName)

	title := "PRTG Alert"
	if sensorName != "" {
		title = fmt.Sprintf("%s - %s", sensorName, titleCase(statusText))
	}

	return &models.NormalizedAlert{
		SourceSystem:  "prtg",
		SourceAlertID: sensorID,
		DeviceIP:      deviceIP,
		DeviceName:    firstNonEmpty(deviceName, host),
		Severity:      severity,
		Category:      n.category(raw, slug),
		AlertType:     fmt.Sprintf("prtg_%s_%s", slug, statusSlug(statusText)),
		Title:         title,
		Message:       asString(raw["message"]),
		OccurredAt:    n.now(),
		IsClear:       isClear,
		RawData:       encodeRaw(raw),
		Fingerprint:   n.fingerprint(deviceIP, slug),
	}, nil
}

// fingerprint keys on device + sensor, not on status, so a Down raise
// and its Up clear collapse onto one digest.
func (n *Normalizer) fingerprint(deviceIP, sensorSlug string) string {
	return models.Fingerprint("prtg", deviceIP+":"+sensorSlug)
}

func (n *Normalizer) severity(raw map[string]any) models.Severity {
	if id, ok := asInt(firstNonNil(raw["statusid"], raw["status_raw"])); ok {
		if n.mappings != nil {
			if sev, found := n.mappings.Severity("prtg", "statusid", strconv.Itoa(id)); found {
				return sev
			}
		}
		if sev, found := severityByStatusID[id]; found {
			return sev
		}
	}
	status := strings.ToLower(asString(raw["status"]))
	if n.mappings != nil {
		if sev, found := n.mappings.Severity("prtg", "status", status); found {
			return sev
		}
	}
	if sev, found := severityByStatusText[status]; found {
		return sev
	}
	return models.SeverityWarning
}

func (n *Normalizer) category(raw map[string]any, slug string) models.Category {
	sensorType := strings.ToLower(firstNonEmpty(asString(raw["type"]), slug))
	if n.mappings != nil {
		if cat, found := n.mappings.Category("prtg", "type", sensorType); found {
			return cat
		}
	}
	for _, entry := range categoryByKeyword {
		if strings.Contains(sensorType, entry.keyword) {
			return entry.category
		}
	}
	return models.CategoryNetwork
}

func (n *Normalizer) parseDatetime(s string) time.Time {
	if s == "" {
		return n.now()
	}
	for _, layout := range datetimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return n.now()
}

func statusCodeText(id int) string {
	switch id {
	case 1:
		return "unknown"
	case 2:
		return "scanning"
	case 3:
		return "up"
	case 4:
		return "warning"
	case 5:
		return "down"
	case 6:
		return "no_probe"
	case 7, 8, 9, 12:
		return "paused"
	case 10:
		return "unusual"
	case 11:
		return "not_licensed"
	case 13:
		return "down_acknowledged"
	case 14:
		return "down_partial"
	default:
		return "unknown"
	}
}

func sensorSlug(name string) string {
	if name == "" {
		return "sensor"
	}
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	var b strings.Builder
	for _, r := range slug {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "sensor"
	}
	return b.String()
}

func statusSlug(status string) string {
	if status == "" {
		return "unknown"
	}
	return strings.ReplaceAll(status, " ", "_")
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
