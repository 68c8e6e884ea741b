package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"margaz-backend/internal/model"
	"margaz-backend/internal/parse"
	"margaz-backend/internal/store"
)

// Store is the persistence the pipeline needs. store.Store satisfies it.
type Store interface {
	FindDevice(ctx context.Context, deviceID string) (*model.Device, error)
	RegisterDevice(ctx context.Context, device *model.Device) (*model.Device, error)
	TouchDevice(ctx context.Context, deviceID string, at time.Time) error
	FindDeviceAuth(ctx context.Context, deviceID string) (*model.DeviceAuth, error)
	RegisterDeviceAuth(ctx context.Context, auth *model.DeviceAuth) (*model.DeviceAuth, error)
	FindDealerByDevice(ctx context.Context, deviceID string) (*model.Dealer, error)
	ApplyTelemetry(ctx context.Context, dealerID, deviceID string, level float64, at time.Time) (*store.Applied, error)
}

// Forwarder relays accepted payloads downstream. Enqueue must not block.
type Forwarder interface {
	Enqueue(payload []byte) bool
}

// Alerter is told about dealers whose level just dropped below the alert
// threshold. Dispatch must not block.
type Alerter interface {
	Dispatch(dealerID string)
}

// Recorder receives one call per policy decision and per rejection.
type Recorder interface {
	Verified(mode SecurityMode, result VerifyResult, reason string)
	Rejected(class Class, reason string)
}

// Config holds the start-up settings of the pipeline.
type Config struct {
	SecurityMode      SecurityMode
	DefaultAuthMode   AuthMode
	MaxSkew           time.Duration
	AllowAutoRegister bool
	// LowLevelThreshold enables alerts when positive.
	LowLevelThreshold float64
}

// Report is one telemetry request as received. Fields stay raw so that
// devices sending numbers as strings (or ids as numbers) are still understood.
type Report struct {
	DeviceID  json.RawMessage `json:"device_id"`
	TankLevel json.RawMessage `json:"tank_level"`
	Timestamp json.RawMessage `json:"timestamp"`
	Counter   json.RawMessage `json:"counter"`
	Signature json.RawMessage `json:"signature"`

	// Body is the request body exactly as received, for the forwarder.
	Body     []byte `json:"-"`
	ClientIP string `json:"-"`
}

// Result describes an accepted report.
type Result struct {
	DeviceID        string
	Level           float64
	NeedsAssignment bool
	Dealer          *model.Dealer
	AuthMode        AuthMode
	VerifyResult    VerifyResult
}

// Service is the ingestion pipeline.
type Service struct {
	cfg      Config
	store    Store
	verifier *Verifier
	forward  Forwarder
	alerts   Alerter
	recorder Recorder
	log      *zap.Logger
	now      func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithForwarder sets the downstream relay.
func WithForwarder(f Forwarder) Option { return func(s *Service) { s.forward = f } }

// WithAlerter sets the low-level alert sink.
func WithAlerter(a Alerter) Option { return func(s *Service) { s.alerts = a } }

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option { return func(s *Service) { s.recorder = r } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService wires the pipeline. guard is consulted for signed reports only.
func NewService(cfg Config, st Store, guard ReplayGuard, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		cfg:   cfg,
		store: st,
		log:   log.Named("telemetry"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.verifier = NewVerifier(cfg.MaxSkew, guard, func() time.Time { return s.now() })
	return s
}

// Ingest runs one report through validation, trust resolution, policy and
// persistence. Refusals are returned as *Rejection; any other error is an
// internal failure.
func (s *Service) Ingest(ctx context.Context, r Report) (*Result, error) {
	level, deviceID, rej := validate(r)
	log := s.log.With(
		zap.String("device_id", deviceID),
		zap.String("security_mode", string(s.cfg.SecurityMode)),
		zap.String("ip", r.ClientIP),
	)
	if rej != nil {
		return nil, s.rejected(log, rej)
	}

	if _, err := s.resolveDevice(ctx, deviceID); err != nil {
		return nil, s.fail(log, err)
	}
	auth, err := s.resolveAuth(ctx, deviceID)
	if err != nil {
		return nil, s.fail(log, err)
	}
	if !auth.Active {
		return nil, s.fail(log, reject(ClassForbidden, ReasonAuthInactive, MsgAuthInactive))
	}

	mode := profileAuthMode(auth.AuthMode)
	log = log.With(zap.String("auth_mode", string(mode)))

	verification, err := s.verify(ctx, deviceID, level, mode, auth.Secret, r)
	if err != nil {
		log.Error("replay guard unavailable", zap.Error(err))
		return nil, fmt.Errorf("ingest: %w", err)
	}
	decision := Decide(s.cfg.SecurityMode, mode, verification)
	if s.recorder != nil {
		s.recorder.Verified(s.cfg.SecurityMode, decision.Result, verification.Reason)
	}

	now := s.now()
	if err := s.store.TouchDevice(ctx, deviceID, now); err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	if !decision.Accept {
		return nil, s.fail(log.With(zap.String("verify_result", string(decision.Result))),
			reject(ClassUnauthorized, verification.Reason, MsgInvalidSignature))
	}
	log = log.With(zap.String("verify_result", string(decision.Result)))
	if verification.Reason != "" {
		log.Warn("telemetry verification failed, accepted in monitor mode",
			zap.String("reject_reason", verification.Reason))
	}

	result := &Result{
		DeviceID:     deviceID,
		Level:        level,
		AuthMode:     mode,
		VerifyResult: decision.Result,
	}

	dealer, err := s.store.FindDealerByDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("telemetry accepted, device not assigned to a dealer", zap.Float64("tank_level", level))
		result.NeedsAssignment = true
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}

	applied, err := s.store.ApplyTelemetry(ctx, dealer.ID, deviceID, level, now)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	result.Dealer = &applied.Dealer

	if s.forward != nil && !s.forward.Enqueue(r.Body) {
		log.Warn("forward queue full, payload dropped")
	}
	if s.alerts != nil && crossedBelow(applied.PreviousLevel, level, s.cfg.LowLevelThreshold) {
		s.alerts.Dispatch(dealer.ID)
	}

	log.Info("telemetry accepted",
		zap.String("dealer_id", dealer.ID),
		zap.Float64("tank_level", level))
	return result, nil
}

func validate(r Report) (float64, string, *Rejection) {
	deviceID := parse.Text(r.DeviceID)
	if !parse.Present(r.TankLevel) {
		return 0, deviceID, reject(ClassInvalid, ReasonMissingTankLevel, MsgTankLevelRequired)
	}
	if deviceID == "" {
		return 0, deviceID, reject(ClassInvalid, ReasonMissingDeviceID, MsgDeviceIDRequired)
	}
	level, err := parse.Number(r.TankLevel)
	if err != nil || level < 0 || level > 100 {
		return 0, deviceID, reject(ClassInvalid, ReasonTankLevelOutOfRange, MsgTankLevelRange)
	}
	return level, deviceID, nil
}

func (s *Service) resolveDevice(ctx context.Context, deviceID string) (*model.Device, error) {
	device, err := s.store.FindDevice(ctx, deviceID)
	if err == nil {
		return device, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if !s.cfg.AllowAutoRegister {
		return nil, reject(ClassForbidden, ReasonUnknownDevice, MsgUnknownDevice)
	}

	device, err = s.store.RegisterDevice(ctx, &model.Device{
		DeviceID:    deviceID,
		Name:        "Arduino " + deviceID,
		Description: "auto-registered",
		Status:      "active",
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("device auto-registered", zap.String("device_id", deviceID))
	return device, nil
}

func (s *Service) resolveAuth(ctx context.Context, deviceID string) (*model.DeviceAuth, error) {
	auth, err := s.store.FindDeviceAuth(ctx, deviceID)
	if err == nil {
		return auth, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if !s.cfg.AllowAutoRegister {
		return nil, reject(ClassForbidden, ReasonMissingProfile, MsgProfileMissing)
	}

	auth, err = s.store.RegisterDeviceAuth(ctx, &model.DeviceAuth{
		DeviceID: deviceID,
		AuthMode: string(s.cfg.DefaultAuthMode),
		Active:   true,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("device auth profile auto-registered",
		zap.String("device_id", deviceID),
		zap.String("auth_mode", auth.AuthMode))
	return auth, nil
}

func (s *Service) verify(ctx context.Context, deviceID string, level float64, mode AuthMode, secret string, r Report) (Verification, error) {
	if s.cfg.SecurityMode == SecurityOff || mode == AuthLegacy {
		return Verification{}, nil
	}
	if secret == "" {
		return failed(ReasonMissingSecret), nil
	}
	return s.verifier.Verify(ctx, deviceID, level, secret, SignedFields{
		Timestamp: parse.Text(r.Timestamp),
		Counter:   parse.Text(r.Counter),
		Signature: parse.Text(r.Signature),
	})
}

// fail logs a rejection once and passes any other error through wrapped.
func (s *Service) fail(log *zap.Logger, err error) error {
	var rej *Rejection
	if errors.As(err, &rej) {
		return s.rejected(log, rej)
	}
	return fmt.Errorf("ingest: %w", err)
}

func (s *Service) rejected(log *zap.Logger, rej *Rejection) error {
	if s.recorder != nil {
		s.recorder.Rejected(rej.Class, rej.Reason)
	}
	log.Warn("telemetry rejected",
		zap.String("class", rej.Class.String()),
		zap.String("reject_reason", rej.Reason))
	return rej
}

// crossedBelow reports whether a reading moved from at or above threshold
// to below it. A non-positive threshold disables alerts.
func crossedBelow(previous, current, threshold float64) bool {
	return threshold > 0 && previous >= threshold && current < threshold
}
