package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/carboncube/tierpay/app/models"
)

// NotificationStore is the persistence used by notification delivery.
type NotificationStore interface {
	GetNotification(ctx context.Context, id uint) (*models.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id uint) error
	GetSeller(ctx context.Context, id uint) (*models.Seller, error)
}

// Mailer sends a rendered notification to a seller.
type Mailer interface {
	Send(to, subject, body string) error
}

// EventStore is the persistence used by gateway event jobs.
type EventStore interface {
	GetGatewayEvent(ctx context.Context, id uint) (*models.GatewayEvent, error)
	MarkGatewayEventArchived(ctx context.Context, id uint) error
}

// Uploader stores a raw gateway payload outside the database.
type Uploader interface {
	UploadEvent(ctx context.Context, event *models.GatewayEvent) (string, error)
}

// Replayer settles a stored gateway event again.
type Replayer interface {
	ReplayEvent(ctx context.Context, eventID uint) error
}

// NotificationProcessor delivers stored notifications by mail. Without a
// mailer, or for sellers without an email address, the notification stays
// in-app only and is marked delivered.
type NotificationProcessor struct {
	Store  NotificationStore
	Mailer Mailer
	Render func(title, message string) string
}

func (p *NotificationProcessor) Process(ctx context.Context, job *Job) error {
	payload, err := NotificationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}

	n, err := p.Store.GetNotification(ctx, payload.NotificationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[JobQueue] Notification %d no longer exists, skipping", payload.NotificationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load notification %d: %w", payload.NotificationID, err)
	}
	if n.DeliveredAt != nil {
		return nil
	}

	if p.Mailer != nil {
		seller, err := p.Store.GetSeller(ctx, n.SellerID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to load seller %d: %w", n.SellerID, err)
		}
		if seller != nil && seller.Email != "" {
			body := n.Message
			if p.Render != nil {
				body = p.Render(n.Title, n.Message)
			}
			if err := p.Mailer.Send(seller.Email, n.Title, body); err != nil {
				return fmt.Errorf("failed to mail notification %d: %w", n.ID, err)
			}
		}
	}

	if err := p.Store.MarkNotificationDelivered(ctx, n.ID); err != nil {
		return fmt.Errorf("failed to mark notification %d delivered: %w", n.ID, err)
	}
	log.Infof("[JobQueue] Delivered notification %d to seller %d", n.ID, n.SellerID)
	return nil
}

// ArchiveProcessor copies raw gateway payloads to object storage.
type ArchiveProcessor struct {
	Store    EventStore
	Uploader Uploader
}

func (p *ArchiveProcessor) Process(ctx context.Context, job *Job) error {
	payload, err := GatewayEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid archive payload: %w", err)
	}

	event, err := p.Store.GetGatewayEvent(ctx, payload.EventID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[JobQueue] Gateway event %d no longer exists, skipping archive", payload.EventID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load gateway event %d: %w", payload.EventID, err)
	}
	if event.ArchivedAt != nil {
		return nil
	}

	if _, err := p.Uploader.UploadEvent(ctx, event); err != nil {
		return err
	}
	if err := p.Store.MarkGatewayEventArchived(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark gateway event %d archived: %w", event.ID, err)
	}
	return nil
}

// ReplayProcessor re-runs settlement for a stored gateway event.
type ReplayProcessor struct {
	Replayer Replayer
}

func (p *ReplayProcessor) Process(ctx context.Context, job *Job) error {
	payload, err := GatewayEventJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid replay payload: %w", err)
	}
	return p.Replayer.ReplayEvent(ctx, payload.EventID)
}
