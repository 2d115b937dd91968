package snmptrap

import "strings"

// Enterprise OID prefixes identifying the originating vendor.
var vendorPrefixes = []struct {
	prefix string
	vendor string
}{
	{"1.3.6.1.4.1.6141", "ciena"}, // Ciena WWP (SAOS)
	{"1.3.6.1.4.1.1271", "ciena"}, // Ciena CES
	{"1.3.6.1.4.1.534", "eaton"},
	{"1.3.6.1.4.1.9", "cisco"},
	{"1.3.6.1.4.1.2636", "juniper"},
	{"1.3.6.1.4.1.8072", "linux"}, // Net-SNMP
	{"1.3.6.1.4.1.2021", "linux"}, // UCD-SNMP
	{"1.3.6.1.4.1.11", "hp"},
	{"1.3.6.1.4.1.674", "dell"},
}

var standardTrapNames = map[string]string{
	"1.3.6.1.6.3.1.1.5.1": "coldStart",
	"1.3.6.1.6.3.1.1.5.2": "warmStart",
	"1.3.6.1.6.3.1.1.5.3": "linkDown",
	"1.3.6.1.6.3.1.1.5.4": "linkUp",
	"1.3.6.1.6.3.1.1.5.5": "authenticationFailure",
	"1.3.6.1.6.3.1.1.5.6": "egpNeighborLoss",
}

// Route picks the vendor handler for a decoded trap by enterprise-OID
// prefix, falling back to "standard" for the RFC traps and "generic"
// for everything else.
func Route(trap DecodedTrap) string {
	for _, entry := range vendorPrefixes {
		if oidHasPrefix(trap.EnterpriseOID, entry.prefix) || oidHasPrefix(trap.TrapOID, entry.prefix) {
			return entry.vendor
		}
	}
	if _, ok := standardTrapNames[trap.TrapOID]; ok {
		return "standard"
	}
	return "generic"
}

// oidHasPrefix matches on arc boundaries: 1.3.6.1.4.1.9 must not
// claim 1.3.6.1.4.1.9999.
func oidHasPrefix(oid, prefix string) bool {
	if oid == "" {
		return false
	}
	return oid == prefix || strings.HasPrefix(oid, prefix+".")
}
