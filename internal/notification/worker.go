package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"aqua-monitor-backend/internal/model"
)

// Alert identifies a reservoir whose daily snapshot landed in a critical
// level, together with the status label it got.
type Alert struct {
	ReservoirID int64
	Status      string
}

// Sender defines the interface for sending a web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of Sender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool manages a pool of workers for sending level alerts.
type WorkerPool struct {
	size    int
	jobs    chan Alert
	db      *gorm.DB
	webpush *webpush.Options
	sender  Sender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan Alert, size),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

// worker is the actual worker goroutine.
func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Alert worker %d started", id)
	for {
		select {
		case alert := <-wp.jobs:
			log.Printf("Alert worker %d processing reservoir %d", id, alert.ReservoirID)
			wp.sendAlertsForReservoir(ctx, alert)
		case <-ctx.Done():
			log.Printf("Alert worker %d shutting down", id)
			return
		}
	}
}

// Dispatch sends a job to the worker pool.
func (wp *WorkerPool) Dispatch(alert Alert) {
	wp.jobs <- alert
}

// sendAlertsForReservoir fetches subscriptions and pushes the alert to each.
func (wp *WorkerPool) sendAlertsForReservoir(ctx context.Context, alert Alert) {
	var subscriptions []model.PushSubscription
	err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_reservoir_mapping srm ON srm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("srm.reservoir_id = ?", alert.ReservoirID).
		Find(&subscriptions).Error
	if err != nil {
		log.Printf("Error fetching subscriptions for reservoir %d: %v", alert.ReservoirID, err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	log.Printf("Sending %d alerts for reservoir %d", len(subscriptions), alert.ReservoirID)

	var reservoir model.Reservoir
	label := fmt.Sprintf("%d", alert.ReservoirID)
	if err := wp.db.WithContext(ctx).
		Select("name").
		First(&reservoir, alert.ReservoirID).Error; err != nil {
		log.Printf("Error fetching reservoir %d: %v", alert.ReservoirID, err)
	} else if reservoir.Name != "" {
		label = reservoir.Name
	}

	message := fmt.Sprintf("Reservatório %s em nível %s!", label, alert.Status)
	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

// sendNotification sends a single web push notification.
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
		log.Printf("Error sending alert to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
