package snmptrap

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opsconductor/opsconductor/internal/connectors/snmp"
	"github.com/opsconductor/opsconductor/internal/models"
)

// Event is the typed record a vendor handler extracts from a trap.
// AlarmID is the correlation key: a clear with the same AlarmID
// resolves a prior raise.
type Event struct {
	EventType   string
	Severity    models.Severity
	ObjectType  string
	ObjectID    string
	Description string
	AlarmID     string
	IsClear     bool
}

// Handler turns a decoded trap into an Event. A nil return means the
// handler recognized nothing worth recording beyond the raw log.
type Handler interface {
	Handle(trap DecodedTrap) *Event
}

// defaultHandlers wires every routed vendor; vendors without a
// dedicated handler share the generic one.
func defaultHandlers() map[string]Handler {
	generic := &GenericHandler{}
	return map[string]Handler{
		"ciena":    &CienaHandler{},
		"eaton":    &EatonHandler{},
		"standard": generic,
		"generic":  generic,
		"cisco":    generic,
		"juniper":  generic,
		"linux":    generic,
		"hp":       generic,
		"dell":     generic,
	}
}

// Ciena WWP-LEOS trap families.
var cienaTrapTypes = map[string]string{
	"1.3.6.1.4.1.6141.2.60.5.0.1":  "alarmRaised",
	"1.3.6.1.4.1.6141.2.60.5.0.2":  "alarmCleared",
	"1.3.6.1.4.1.6141.2.60.47.0.1": "rapsStateChange",
	"1.3.6.1.4.1.6141.2.60.47.0.2": "rapsSwitchover",
	"1.3.6.1.4.1.6141.2.60.2.0.1":  "portLinkUp",
	"1.3.6.1.4.1.6141.2.60.2.0.2":  "portLinkDown",
	"1.3.6.1.4.1.6141.2.60.6.0.1":  "cfmDefect",
	"1.3.6.1.4.1.6141.2.60.6.0.2":  "cfmDefectCleared",
	"1.3.6.1.6.3.1.1.5.3":          "linkDown",
	"1.3.6.1.6.3.1.1.5.4":          "linkUp",
}

const (
	cienaAlarmObjectOID = "1.3.6.1.4.1.6141.2.60.5.1.1.1"
	cienaAlarmDescrOID  = "1.3.6.1.4.1.6141.2.60.5.1.1.3"
	cienaAlarmIDOID     = "1.3.6.1.4.1.6141.2.60.5.1.1.5"
)

var firstNumber = regexp.MustCompile(`\d+`)

// CienaHandler understands SAOS alarm, link, RAPS and CFM traps.
type CienaHandler struct{}

func (h *CienaHandler) Handle(trap DecodedTrap) *Event {
	switch trapType := cienaTrapType(trap.TrapOID); {
	case trapType == "alarmRaised" || trapType == "alarmCleared":
		return h.handleAlarm(trap, trapType)
	case trapType == "portLinkUp" || trapType == "portLinkDown" ||
		trapType == "linkUp" || trapType == "linkDown":
		return handleLinkEvent(trap, trapType)
	case strings.HasPrefix(trapType, "raps"):
		return h.handleRaps(trap, trapType)
	case strings.HasPrefix(trapType, "cfm"):
		return h.handleCfm(trap, trapType)
	default:
		return &Event{
			EventType:   "unknown",
			Severity:    models.SeverityInfo,
			Description: "Unknown Ciena trap: " + trap.TrapOID,
		}
	}
}

func cienaTrapType(trapOID string) string {
	if name, ok := cienaTrapTypes[trapOID]; ok {
		return name
	}
	for oid, name := range cienaTrapTypes {
		if oidHasPrefix(trapOID, oid) {
			return name
		}
	}
	return "unknown"
}

func (h *CienaHandler) handleAlarm(trap DecodedTrap, trapType string) *Event {
	isClear := trapType == "alarmCleared"

	object := ""
	description := "Unknown alarm"
	alarmID := ""
	for oid, value := range trap.Varbinds {
		switch {
		case oidHasPrefix(oid, cienaAlarmObjectOID):
			object = value
		case oidHasPrefix(oid, cienaAlarmDescrOID):
			description = value
		case oidHasPrefix(oid, cienaAlarmIDOID):
			alarmID = value
		}
	}
	// Without an explicit alarm id, synthesize one stable enough for
	// the matching clear to find.
	if alarmID == "" {
		obj := object
		if obj == "" {
			obj = "unknown"
		}
		alarmID = fmt.Sprintf("%s:%s:%s", trap.SourceIP, obj, truncate(description, 50))
	}

	severity := models.SeverityClear
	if !isClear {
		severity = snmp.ExtractSeverity(trap.EnterpriseOID, trap.Varbinds)
	}

	objectType := "unknown"
	objectID := object
	lower := strings.ToLower(object)
	switch {
	case strings.Contains(lower, "port"):
		objectType = "port"
		if m := firstNumber.FindString(object); m != "" {
			objectID = m
		}
	case strings.Contains(lower, "ring") || strings.Contains(lower, "raps"):
		objectType = "ring"
	case strings.Contains(lower, "chassis"):
		objectType = "chassis"
	}

	return &Event{
		EventType:   "alarm",
		Severity:    severity,
		ObjectType:  objectType,
		ObjectID:    objectID,
		Description: description,
		AlarmID:     alarmID,
		IsClear:     isClear,
	}
}

func (h *CienaHandler) handleRaps(trap DecodedTrap, trapType string) *Event {
	ringID := ""
	for oid, value := range trap.Varbinds {
		if strings.Contains(oid, ".47.") {
			ringID = value
			break
		}
	}
	severity := models.SeverityInfo
	if trapType == "rapsSwitchover" {
		severity = models.SeverityWarning
	}
	ev := &Event{
		EventType:   "raps",
		Severity:    severity,
		ObjectType:  "ring",
		ObjectID:    ringID,
		Description: fmt.Sprintf("RAPS %s: Ring %s", trapType, orUnknown(ringID)),
	}
	if ringID != "" {
		ev.AlarmID = fmt.Sprintf("%s:raps:%s", trap.SourceIP, ringID)
	}
	return ev
}

func (h *CienaHandler) handleCfm(trap DecodedTrap, trapType string) *Event {
	isClear := strings.Contains(trapType, "Cleared")
	severity := models.SeverityMinor
	if isClear {
		severity = models.SeverityClear
	}
	return &Event{
		EventType:   "cfm",
		Severity:    severity,
		ObjectType:  "cfm",
		Description: "CFM " + trapType,
		AlarmID:     fmt.Sprintf("%s:cfm:%s", trap.SourceIP, trap.TrapOID),
		IsClear:     isClear,
	}
}

// EatonHandler covers xUPS alarm traps: every Eaton trap is treated as
// an alarm keyed by its description (the first non-empty varbind under
// 1.3.6.1.4.1.534.1.7, else the trap OID), with the matching clear
// arriving as specific-trap code 3 (xupsTrapAlarmEntryRemoved, trap
// OID suffix .0.3).
type EatonHandler struct{}

func (h *EatonHandler) Handle(trap DecodedTrap) *Event {
	severity := snmp.ExtractSeverity(trap.EnterpriseOID, trap.Varbinds)
	isClear := trap.SpecificTrap == 3 || strings.HasSuffix(trap.TrapOID, ".0.3")
	if isClear {
		severity = models.SeverityClear
	}

	description := fmt.Sprintf("Eaton UPS trap %s", trap.TrapOID)
	for oid, value := range trap.Varbinds {
		if oidHasPrefix(oid, "1.3.6.1.4.1.534.1.7") && value != "" {
			description = value
			break
		}
	}

	return &Event{
		EventType:   "ups_alarm",
		Severity:    severity,
		ObjectType:  "ups",
		Description: description,
		AlarmID:     fmt.Sprintf("%s:ups:%s", trap.SourceIP, truncate(description, 50)),
		IsClear:     isClear,
	}
}

// GenericHandler covers the RFC standard traps and anything unroutable.
type GenericHandler struct{}

var standardTrapDetails = map[string]struct {
	severity    models.Severity
	description string
	isClear     bool
	correlate   bool
}{
	"coldStart":             {models.SeverityWarning, "Device cold start", false, false},
	"warmStart":             {models.SeverityInfo, "Device warm start", false, false},
	"linkDown":              {models.SeverityWarning, "Interface link down", false, true},
	"linkUp":                {models.SeverityInfo, "Interface link up", true, true},
	"authenticationFailure": {models.SeverityWarning, "SNMP authentication failure", false, false},
	"egpNeighborLoss":       {models.SeverityWarning, "EGP neighbor loss", false, false},
}

func (h *GenericHandler) Handle(trap DecodedTrap) *Event {
	name, ok := standardTrapNames[trap.TrapOID]
	if !ok {
		return &Event{
			EventType:   "unknown",
			Severity:    models.SeverityInfo,
			Description: "Unknown trap: " + trap.TrapOID,
		}
	}
	if name == "linkDown" || name == "linkUp" {
		return handleLinkEvent(trap, name)
	}

	details := standardTrapDetails[name]
	ev := &Event{
		EventType:   name,
		Severity:    details.severity,
		Description: details.description,
		IsClear:     details.isClear,
	}
	if details.correlate {
		ev.AlarmID = fmt.Sprintf("%s:%s", trap.SourceIP, name)
	}
	return ev
}

// handleLinkEvent extracts the interface identity from the IF-MIB
// varbinds and keys the alarm on it so linkUp clears linkDown.
func handleLinkEvent(trap DecodedTrap, trapType string) *Event {
	isUp := strings.Contains(trapType, "Up")

	ifIndex, ifDescr, ifName := "", "", ""
	for oid, value := range trap.Varbinds {
		switch {
		case strings.Contains(oid, ".2.2.1.1."): // ifIndex
			ifIndex = value
		case strings.Contains(oid, ".2.2.1.2."): // ifDescr
			ifDescr = value
		case strings.Contains(oid, ".31.1.1.1.1."): // ifName
			ifName = value
		}
	}
	portID := firstNonEmpty(ifName, ifDescr, ifIndex, "unknown")

	severity := models.SeverityWarning
	state := "down"
	if isUp {
		severity = models.SeverityInfo
		state = "up"
	}
	return &Event{
		EventType:   "link",
		Severity:    severity,
		ObjectType:  "port",
		ObjectID:    portID,
		Description: fmt.Sprintf("Port %s %s", portID, state),
		AlarmID:     fmt.Sprintf("%s:link:%s", trap.SourceIP, portID),
		IsClear:     isUp,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
