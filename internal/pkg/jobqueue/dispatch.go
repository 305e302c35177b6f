package jobqueue

import (
	"context"

	"github.com/gofiber/fiber/v2/log"

	"github.com/carboncube/tierpay/app/models"
)

// Notifier hands notifications to the queue for delivery. Enqueue failures
// are logged; the notification row stays undelivered and visible in-app.
type Notifier struct {
	queue *Queue
}

func NewNotifier(q *Queue) *Notifier {
	return &Notifier{queue: q}
}

func (n *Notifier) Notify(ctx context.Context, note *models.Notification) {
	payload := NotificationJobPayload{NotificationID: note.ID, SellerID: note.SellerID}
	if _, err := n.queue.EnqueueJob(ctx, JobTypeDeliverNotification, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue notification %d: %v", note.ID, err)
	}
}

// Archiver enqueues archive jobs for recorded gateway events.
type Archiver struct {
	queue *Queue
}

func NewArchiver(q *Queue) *Archiver {
	return &Archiver{queue: q}
}

func (a *Archiver) ArchiveEvent(ctx context.Context, eventID uint) {
	payload := GatewayEventJobPayload{EventID: eventID}
	if _, err := a.queue.EnqueueJob(ctx, JobTypeArchiveGatewayEvent, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue archive of gateway event %d: %v", eventID, err)
	}
}

// EnqueueReplay schedules a settlement replay of a gateway event.
func EnqueueReplay(ctx context.Context, q *Queue, eventID uint) (*Job, error) {
	return q.EnqueueJob(ctx, JobTypeReplayGatewayEvent, GatewayEventJobPayload{EventID: eventID}.ToMap())
}
