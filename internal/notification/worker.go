package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"margaz-backend/internal/model"
	"margaz-backend/internal/telemetry"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Store is the subset of store.Store the workers read from.
type Store interface {
	FindDealer(ctx context.Context, id string) (*model.Dealer, error)
	SubscriptionsForDealer(ctx context.Context, dealerID string) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
}

// Alert is the push payload shown to operators.
type Alert struct {
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	DealerID  string  `json:"dealer_id"`
	TankLevel float64 `json:"tank_level"`
}

// WorkerPool sends low-level alerts for dealers on a fixed set of workers.
type WorkerPool struct {
	size    int
	jobs    chan string
	store   Store
	webpush *webpush.Options
	sender  NotificationSender
	log     *zap.Logger
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, st Store, webpushOptions *webpush.Options, log *zap.Logger) *WorkerPool {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WorkerPool{
		size:    size,
		jobs:    make(chan string, size*16),
		store:   st,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		log:     log.Named("notification"),
	}
}

// SetSender replaces the push transport. Call it before Start.
func (wp *WorkerPool) SetSender(sender NotificationSender) {
	wp.sender = sender
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	wp.log.Debug("worker started", zap.Int("worker", id))
	for {
		select {
		case dealerID := <-wp.jobs:
			wp.sendAlertsForDealer(ctx, dealerID)
		case <-ctx.Done():
			wp.log.Debug("worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

// Dispatch queues an alert for the dealer. It never blocks; when the queue
// is full the alert is dropped.
func (wp *WorkerPool) Dispatch(dealerID string) {
	select {
	case wp.jobs <- dealerID:
	default:
		wp.log.Warn("alert queue full, dropping alert", zap.String("dealer_id", dealerID))
	}
}

var _ telemetry.Alerter = (*WorkerPool)(nil)

func (wp *WorkerPool) sendAlertsForDealer(ctx context.Context, dealerID string) {
	subscriptions, err := wp.store.SubscriptionsForDealer(ctx, dealerID)
	if err != nil {
		wp.log.Error("failed to fetch subscriptions", zap.String("dealer_id", dealerID), zap.Error(err))
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	dealer, err := wp.store.FindDealer(ctx, dealerID)
	if err != nil {
		wp.log.Error("failed to fetch dealer", zap.String("dealer_id", dealerID), zap.Error(err))
		return
	}

	payload, err := json.Marshal(Alert{
		Title:     "Low tank level",
		Body:      fmt.Sprintf("%s: tank level is %s%%", dealer.Title, telemetry.FormatLevel(dealer.TankLevel)),
		DealerID:  dealer.ID,
		TankLevel: dealer.TankLevel,
	})
	if err != nil {
		wp.log.Error("failed to encode alert", zap.Error(err))
		return
	}

	wp.log.Info("sending low-level alerts",
		zap.String("dealer_id", dealerID),
		zap.Int("subscriptions", len(subscriptions)))
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, payload)
	}
}

func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		wp.log.Warn("failed to send notification", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	// Gone: the browser revoked the subscription.
	if resp.StatusCode == http.StatusGone {
		wp.log.Info("subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			wp.log.Error("failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
	}
}
