package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("prtg", "10.1.1.1:ping")
	b := Fingerprint("prtg", "10.1.1.1:ping")
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestFingerprintVariesByInputs(t *testing.T) {
	assert.NotEqual(t, Fingerprint("prtg", "10.1.1.1:ping"), Fingerprint("snmp", "10.1.1.1:ping"))
	assert.NotEqual(t, Fingerprint("prtg", "10.1.1.1:ping"), Fingerprint("prtg", "10.1.1.2:ping"))
}

func TestFingerprintKnownDigest(t *testing.T) {
	// sha256("snmp:10.2.2.2:link:3"), the linkDown/linkUp correlation
	// digest.
	assert.Equal(t,
		"0a553b4b96dd3721846dd61e71eeebbc5499c2a08ab80e50f2d8d98c62ed5a0a",
		Fingerprint("snmp", "10.2.2.2:link:3"),
		"digest changed; correlation contract broken")
}

func TestSeverityValid(t *testing.T) {
	for _, sev := range []Severity{SeverityClear, SeverityInfo, SeverityWarning, SeverityMinor, SeverityMajor, SeverityCritical} {
		assert.True(t, sev.Valid(), string(sev))
	}
	assert.False(t, Severity("panic").Valid())
	assert.False(t, Severity("").Valid())
}

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionQueued.Terminal())
	assert.False(t, ExecutionRunning.Terminal())
	assert.True(t, ExecutionSuccess.Terminal())
	assert.True(t, ExecutionFailed.Terminal())
	assert.True(t, ExecutionTimeout.Terminal())
}
