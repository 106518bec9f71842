package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"gorm.io/gorm"

	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/monitor"
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

// WorkerPool fans presence transition events out to push subscribers. It
// implements monitor.TransitionSink so the monitor can hand events off
// without blocking its poll loop.
type WorkerPool struct {
	size    int
	jobs    chan monitor.TransitionEvent
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan monitor.TransitionEvent, size), // Buffered channel
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{}, // Use the real sender by default
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
	log.Printf("Worker %d started", id)
	for {
		select {
		case ev := <-wp.jobs:
			wp.sendNotificationsForEvent(ctx, ev)
		case <-ctx.Done():
			log.Printf("Worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues a transition event. A full queue drops the event rather
// than stalling the monitor; the next transition carries fresher state anyway.
func (wp *WorkerPool) Dispatch(ev monitor.TransitionEvent) {
	select {
	case wp.jobs <- ev:
	default:
		log.Printf("Notification queue full, dropping transition event")
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan monitor.TransitionEvent {
	return wp.jobs
}

// sendNotificationsForEvent fetches all subscriptions and notifies each one.
func (wp *WorkerPool) sendNotificationsForEvent(ctx context.Context, ev monitor.TransitionEvent) {
	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching push subscriptions: %v", err)
		return
	}

	if len(subscriptions) == 0 {
		return
	}

	message := formatTransitionMessage(ev)
	log.Printf("Sending %d notifications: %s", len(subscriptions), message)

	for _, sub := range subscriptions {
		wp.sendNotification(ctx, sub, []byte(message))
	}
}

func formatTransitionMessage(ev monitor.TransitionEvent) string {
	if ev.JustReturned {
		if ev.Snapshot.LastAFKDurationMinutes != nil {
			return fmt.Sprintf("Back at the keyboard after %.0f minutes away", *ev.Snapshot.LastAFKDurationMinutes)
		}
		return "Back at the keyboard"
	}
	return "Gone AFK"
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	// Manually construct the webpush.Subscription object
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == 410 {
		log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
		if err := wp.db.WithContext(ctx).Delete(&sub).Error; err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
	}
}
