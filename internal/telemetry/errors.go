package telemetry

import "fmt"

// Reasons recorded in logs and metrics. They never reach the device.
const (
	ReasonMissingTimestamp     = "missing_timestamp"
	ReasonMissingCounter       = "missing_counter"
	ReasonMissingSignature     = "missing_signature"
	ReasonInvalidTimestamp     = "invalid_timestamp"
	ReasonTimestampOutOfWindow = "timestamp_out_of_window"
	ReasonSignatureMismatch    = "signature_mismatch"
	ReasonReplayDetected       = "replay_detected"
	ReasonMissingSecret        = "missing_device_secret"
	ReasonUnknownDevice        = "unknown_device_autoregister_disabled"
	ReasonMissingProfile       = "missing_device_auth_profile"
	ReasonAuthInactive         = "device_auth_inactive"
	ReasonMissingTankLevel     = "missing_tank_level"
	ReasonMissingDeviceID      = "missing_device_id"
	ReasonTankLevelOutOfRange  = "invalid_tank_level"
)

// Device-facing messages. One per rejection path, deliberately terse.
const (
	MsgTankLevelRequired = "tank_level is required"
	MsgDeviceIDRequired  = "device_id is required"
	MsgTankLevelRange    = "tank_level must be a number between 0-100"
	MsgUnknownDevice     = "unknown device is not allowed"
	MsgProfileMissing    = "device auth profile missing"
	MsgAuthInactive      = "device auth is inactive"
	MsgInvalidSignature  = "invalid telemetry signature"
)

// Class groups rejections by how the transport should answer them.
type Class int

const (
	// ClassInvalid is a malformed or out-of-range payload.
	ClassInvalid Class = iota + 1
	// ClassForbidden is a trust-resolution failure, independent of security mode.
	ClassForbidden
	// ClassUnauthorized is an enforced verification failure.
	ClassUnauthorized
)

func (c Class) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassForbidden:
		return "forbidden"
	case ClassUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

// Rejection is returned by Ingest when a report is refused.
type Rejection struct {
	Class   Class
	Reason  string
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("telemetry rejected (%s): %s", r.Reason, r.Message)
}

func reject(class Class, reason, message string) *Rejection {
	return &Rejection{Class: class, Reason: reason, Message: message}
}
