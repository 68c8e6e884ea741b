package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecide(t *testing.T) {
	ok := Verification{Attempted: true, OK: true}
	mismatch := Verification{Attempted: true, Reason: ReasonSignatureMismatch}
	replay := Verification{Attempted: true, Reason: ReasonReplayDetected}

	tests := []struct {
		name   string
		mode   SecurityMode
		auth   AuthMode
		v      Verification
		accept bool
		result VerifyResult
	}{
		{"off signed", SecurityOff, AuthSigned, Verification{}, true, ResultSecurityOff},
		{"off legacy", SecurityOff, AuthLegacy, Verification{}, true, ResultSecurityOff},
		{"monitor legacy", SecurityMonitor, AuthLegacy, Verification{}, true, ResultLegacyAllowed},
		{"enforce legacy", SecurityEnforce, AuthLegacy, Verification{}, true, ResultLegacyAllowed},
		{"monitor signed ok", SecurityMonitor, AuthSigned, ok, true, ResultSignedOK},
		{"enforce signed ok", SecurityEnforce, AuthSigned, ok, true, ResultSignedOK},
		{"monitor signed mismatch", SecurityMonitor, AuthSigned, mismatch, true, ResultMonitorFail},
		{"monitor signed replay", SecurityMonitor, AuthSigned, replay, false, ResultMonitorFail},
		{"enforce signed mismatch", SecurityEnforce, AuthSigned, mismatch, false, ResultEnforceFail},
		{"enforce signed replay", SecurityEnforce, AuthSigned, replay, false, ResultEnforceFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.mode, tt.auth, tt.v)
			assert.Equal(t, tt.accept, got.Accept)
			assert.Equal(t, tt.result, got.Result)
		})
	}
}

func TestParseSecurityMode(t *testing.T) {
	m, err := ParseSecurityMode(" Enforce ")
	require.NoError(t, err)
	assert.Equal(t, SecurityEnforce, m)

	_, err = ParseSecurityMode("strict")
	assert.Error(t, err)
}

func TestParseAuthMode(t *testing.T) {
	m, err := ParseAuthMode("LEGACY")
	require.NoError(t, err)
	assert.Equal(t, AuthLegacy, m)

	_, err = ParseAuthMode("")
	assert.Error(t, err)
}

func TestProfileAuthMode(t *testing.T) {
	assert.Equal(t, AuthLegacy, profileAuthMode("legacy"))
	assert.Equal(t, AuthSigned, profileAuthMode("signed"))
	assert.Equal(t, AuthSigned, profileAuthMode(""))
	assert.Equal(t, AuthSigned, profileAuthMode("hmac"))
}
