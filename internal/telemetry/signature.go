package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatLevel renders a tank level the way devices put it in the signed
// string: shortest decimal form, no exponent ("42", "42.5").
func FormatLevel(level float64) string {
	return strconv.FormatFloat(level, 'f', -1, 64)
}

// SigningString is the message a signed device authenticates:
// deviceId.tankLevel.timestamp.counter
func SigningString(deviceID string, level float64, timestamp, counter string) string {
	return strings.Join([]string{deviceID, FormatLevel(level), timestamp, counter}, ".")
}

// Sign returns the hex-encoded HMAC-SHA256 of the signing string keyed by secret.
func Sign(secret, deviceID string, level float64, timestamp, counter string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(SigningString(deviceID, level, timestamp, counter)))
	return hex.EncodeToString(mac.Sum(nil))
}

// SafeEqual compares two signatures without leaking where they differ.
// Every signature comparison in this package must go through it.
func SafeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// SignedFields are the per-report authentication fields of a signed device.
type SignedFields struct {
	Timestamp string
	Counter   string
	Signature string
}

// Verifier checks signed reports against a device secret, a clock-skew
// window and a replay guard.
type Verifier struct {
	maxSkew time.Duration
	guard   ReplayGuard
	now     func() time.Time
}

// NewVerifier creates a verifier. The skew window doubles as the replay
// retention horizon of guard.
func NewVerifier(maxSkew time.Duration, guard ReplayGuard, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{maxSkew: maxSkew, guard: guard, now: now}
}

// Verify runs the checks in order and stops at the first failure. The replay
// guard is consulted only once the signature is known to be genuine, so
// forged reports can neither fill the guard nor be told apart from replays.
// A non-nil error means the replay guard itself failed.
func (v *Verifier) Verify(ctx context.Context, deviceID string, level float64, secret string, f SignedFields) (Verification, error) {
	timestamp := strings.TrimSpace(f.Timestamp)
	counter := strings.TrimSpace(f.Counter)
	signature := strings.TrimSpace(f.Signature)

	switch {
	case timestamp == "":
		return failed(ReasonMissingTimestamp), nil
	case counter == "":
		return failed(ReasonMissingCounter), nil
	case signature == "":
		return failed(ReasonMissingSignature), nil
	}

	ts, err := strconv.ParseFloat(timestamp, 64)
	if err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return failed(ReasonInvalidTimestamp), nil
	}

	nowMs := float64(v.now().UnixMilli())
	if math.Abs(nowMs-ts) > float64(v.maxSkew.Milliseconds()) {
		return failed(ReasonTimestampOutOfWindow), nil
	}

	expected := Sign(secret, deviceID, level, timestamp, counter)
	if !SafeEqual(signature, expected) {
		return failed(ReasonSignatureMismatch), nil
	}

	fresh, err := v.guard.Consume(ctx, Fingerprint(deviceID, timestamp, counter))
	if err != nil {
		return Verification{Attempted: true}, fmt.Errorf("replay guard: %w", err)
	}
	if !fresh {
		return failed(ReasonReplayDetected), nil
	}
	return Verification{Attempted: true, OK: true}, nil
}

func failed(reason string) Verification {
	return Verification{Attempted: true, Reason: reason}
}
