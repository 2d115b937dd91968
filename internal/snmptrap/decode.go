// Package snmptrap implements the UDP trap entry path: listen, decode
// v1/v2c PDUs, route to vendor handlers, correlate alarms, and feed
// mapped traps into the alert pipeline through a bounded worker queue.
package snmptrap

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
)

const (
	oidSysUpTime          = "1.3.6.1.2.1.1.3.0"
	oidSnmpTrapOID        = "1.3.6.1.6.3.1.1.4.1.0"
	oidSnmpTrapEnterprise = "1.3.6.1.6.3.1.1.4.3"
)

// DecodedTrap is the protocol-independent view of one received trap.
type DecodedTrap struct {
	ReceivedAt    time.Time
	SourceIP      string
	SourcePort    int
	Version       string
	Community     string
	EnterpriseOID string
	TrapOID       string
	GenericTrap   int
	SpecificTrap  int
	Uptime        uint32
	Varbinds      map[string]string
}

// Decode converts a gosnmp packet into a DecodedTrap. v1 traps are
// canonicalized to a v2-style trap OID per RFC 3584 §3.1: the six
// standard traps map onto 1.3.6.1.6.3.1.1.5.{1..6}, enterprise
// specifics onto <enterprise>.0.<specific>.
func Decode(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) (DecodedTrap, error) {
	if pkt == nil {
		return DecodedTrap{}, fmt.Errorf("snmptrap: nil packet")
	}

	trap := DecodedTrap{
		ReceivedAt: time.Now().UTC(),
		Community:  pkt.Community,
		Varbinds:   map[string]string{},
	}
	if addr != nil {
		trap.SourceIP = addr.IP.String()
		trap.SourcePort = addr.Port
	}

	switch pkt.Version {
	case gosnmp.Version1:
		trap.Version = "1"
		decodeV1(pkt, &trap)
	case gosnmp.Version2c:
		trap.Version = "2c"
		decodeV2(pkt, &trap)
	default:
		return trap, fmt.Errorf("snmptrap: unsupported SNMP version %v", pkt.Version)
	}

	if trap.TrapOID == "" {
		return trap, fmt.Errorf("snmptrap: packet carries no trap OID")
	}
	if trap.EnterpriseOID == "" {
		// The enterprise is normally the trap OID minus its last two arcs.
		if idx := strings.LastIndex(trap.TrapOID, ".0."); idx > 0 {
			trap.EnterpriseOID = trap.TrapOID[:idx]
		}
	}
	return trap, nil
}

func decodeV1(pkt *gosnmp.SnmpPacket, trap *DecodedTrap) {
	trap.EnterpriseOID = normalizeOID(pkt.Enterprise)
	trap.GenericTrap = pkt.GenericTrap
	trap.SpecificTrap = pkt.SpecificTrap
	if pkt.AgentAddress != "" {
		trap.SourceIP = pkt.AgentAddress
	}

	if pkt.GenericTrap >= 0 && pkt.GenericTrap < 6 {
		trap.TrapOID = fmt.Sprintf("1.3.6.1.6.3.1.1.5.%d", pkt.GenericTrap+1)
	} else {
		trap.TrapOID = fmt.Sprintf("%s.0.%d", trap.EnterpriseOID, pkt.SpecificTrap)
	}

	for _, pdu := range pkt.Variables {
		trap.Varbinds[normalizeOID(pdu.Name)] = stringifyValue(pdu)
	}
}

func decodeV2(pkt *gosnmp.SnmpPacket, trap *DecodedTrap) {
	for _, pdu := range pkt.Variables {
		oid := normalizeOID(pdu.Name)
		switch {
		case oid == oidSysUpTime:
			trap.Uptime = uint32(gosnmp.ToBigInt(pdu.Value).Uint64())
		case oid == oidSnmpTrapOID:
			trap.TrapOID = normalizeOID(fmt.Sprintf("%v", pdu.Value))
		case strings.HasPrefix(oid, oidSnmpTrapEnterprise):
			trap.EnterpriseOID = normalizeOID(fmt.Sprintf("%v", pdu.Value))
		default:
			trap.Varbinds[oid] = stringifyValue(pdu)
		}
	}
}

// normalizeOID strips the leading dot gosnmp carries on OID names.
func normalizeOID(oid string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(oid), "."), ".")
}

func stringifyValue(pdu gosnmp.SnmpPDU) string {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			if isPrintable(b) {
				return string(b)
			}
			return fmt.Sprintf("%x", b)
		}
		return fmt.Sprintf("%v", pdu.Value)
	case gosnmp.ObjectIdentifier, gosnmp.IPAddress:
		return normalizeOID(fmt.Sprintf("%v", pdu.Value))
	case gosnmp.Integer, gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Counter64, gosnmp.Uinteger32:
		return gosnmp.ToBigInt(pdu.Value).String()
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return ""
	default:
		return fmt.Sprintf("%v", pdu.Value)
	}
}

func isPrintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' && c != '\n' && c != '\r' {
			return false
		}
		if c > 0x7e {
			return false
		}
	}
	return true
}
