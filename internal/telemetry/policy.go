package telemetry

import (
	"fmt"
	"strings"
)

// SecurityMode is the fleet-wide rollout stage of signed telemetry.
type SecurityMode string

const (
	// SecurityOff accepts every well-formed report without verification.
	SecurityOff SecurityMode = "off"
	// SecurityMonitor verifies and logs, but only replays are rejected.
	SecurityMonitor SecurityMode = "monitor"
	// SecurityEnforce rejects every report of a signed device that fails verification.
	SecurityEnforce SecurityMode = "enforce"
)

// ParseSecurityMode converts a configuration value into a SecurityMode.
func ParseSecurityMode(s string) (SecurityMode, error) {
	switch m := SecurityMode(strings.ToLower(strings.TrimSpace(s))); m {
	case SecurityOff, SecurityMonitor, SecurityEnforce:
		return m, nil
	default:
		return "", fmt.Errorf("unknown security mode %q", s)
	}
}

// AuthMode is the trust tier of a single device.
type AuthMode string

const (
	AuthLegacy AuthMode = "legacy"
	AuthSigned AuthMode = "signed"
)

// ParseAuthMode converts a configuration value into an AuthMode.
func ParseAuthMode(s string) (AuthMode, error) {
	switch m := AuthMode(strings.ToLower(strings.TrimSpace(s))); m {
	case AuthLegacy, AuthSigned:
		return m, nil
	default:
		return "", fmt.Errorf("unknown auth mode %q", s)
	}
}

// profileAuthMode reads a stored profile's mode. Anything that is not
// explicitly legacy is held to the signed contract.
func profileAuthMode(stored string) AuthMode {
	if strings.EqualFold(strings.TrimSpace(stored), string(AuthLegacy)) {
		return AuthLegacy
	}
	return AuthSigned
}

// VerifyResult is the logged label of a policy decision.
type VerifyResult string

const (
	ResultSecurityOff   VerifyResult = "security_off"
	ResultLegacyAllowed VerifyResult = "legacy_allowed"
	ResultSignedOK      VerifyResult = "signed_ok"
	ResultMonitorFail   VerifyResult = "monitor_fail"
	ResultEnforceFail   VerifyResult = "enforce_fail"
)

// Verification is the outcome of the signature and replay checks for one report.
type Verification struct {
	Attempted bool
	OK        bool
	Reason    string
}

// Decision is what the policy engine does with one verification outcome.
type Decision struct {
	Accept bool
	Result VerifyResult
}

// Decide is the accept/reject truth table over security mode, device auth
// mode and verification outcome:
//
//	mode     auth    verification  accept  result
//	off      any     -             yes     security_off
//	monitor  legacy  -             yes     legacy_allowed
//	enforce  legacy  -             yes     legacy_allowed
//	monitor  signed  ok            yes     signed_ok
//	enforce  signed  ok            yes     signed_ok
//	monitor  signed  failed        yes     monitor_fail
//	monitor  signed  replay        no      monitor_fail
//	enforce  signed  failed        no      enforce_fail
func Decide(mode SecurityMode, auth AuthMode, v Verification) Decision {
	if mode == SecurityOff {
		return Decision{Accept: true, Result: ResultSecurityOff}
	}
	if auth == AuthLegacy {
		return Decision{Accept: true, Result: ResultLegacyAllowed}
	}
	if v.OK {
		return Decision{Accept: true, Result: ResultSignedOK}
	}
	if mode == SecurityMonitor {
		return Decision{Accept: v.Reason != ReasonReplayDetected, Result: ResultMonitorFail}
	}
	return Decision{Accept: false, Result: ResultEnforceFail}
}
