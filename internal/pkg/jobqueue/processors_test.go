package jobqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/carboncube/tierpay/app/models"
)

type fakeStore struct {
	notifications map[uint]*models.Notification
	sellers       map[uint]*models.Seller
	events        map[uint]*models.GatewayEvent
	loadErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		notifications: map[uint]*models.Notification{},
		sellers:       map[uint]*models.Seller{},
		events:        map[uint]*models.GatewayEvent{},
	}
}

func (f *fakeStore) GetNotification(_ context.Context, id uint) (*models.Notification, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	n, ok := f.notifications[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return n, nil
}

func (f *fakeStore) MarkNotificationDelivered(_ context.Context, id uint) error {
	now := time.Now()
	f.notifications[id].DeliveredAt = &now
	return nil
}

func (f *fakeStore) GetSeller(_ context.Context, id uint) (*models.Seller, error) {
	s, ok := f.sellers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return s, nil
}

func (f *fakeStore) GetGatewayEvent(_ context.Context, id uint) (*models.GatewayEvent, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	e, ok := f.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return e, nil
}

func (f *fakeStore) MarkGatewayEventArchived(_ context.Context, id uint) error {
	now := time.Now()
	f.events[id].ArchivedAt = &now
	return nil
}

type sentMail struct{ to, subject, body string }

type fakeMailer struct {
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(to, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

type fakeUploader struct {
	uploaded []uint
	err      error
}

func (u *fakeUploader) UploadEvent(_ context.Context, e *models.GatewayEvent) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.uploaded = append(u.uploaded, e.ID)
	return "key", nil
}

type fakeReplayer struct {
	replayed []uint
}

func (r *fakeReplayer) ReplayEvent(_ context.Context, id uint) error {
	r.replayed = append(r.replayed, id)
	return nil
}

func notificationJob(id uint) *Job {
	return &Job{Type: JobTypeDeliverNotification, Payload: NotificationJobPayload{NotificationID: id}.ToMap()}
}

func TestNotificationProcessorMailsSeller(t *testing.T) {
	store := newFakeStore()
	store.sellers[117] = &models.Seller{ID: 117, Email: "alice@example.com"}
	store.notifications[5] = &models.Notification{ID: 5, SellerID: 117, Title: "Gold tier active", Message: "Your Gold tier is active"}
	mailer := &fakeMailer{}
	p := &NotificationProcessor{Store: store, Mailer: mailer, Render: func(title, msg string) string { return title + "|" + msg }}

	require.NoError(t, p.Process(context.Background(), notificationJob(5)))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, sentMail{"alice@example.com", "Gold tier active", "Gold tier active|Your Gold tier is active"}, mailer.sent[0])
	assert.NotNil(t, store.notifications[5].DeliveredAt)

	require.NoError(t, p.Process(context.Background(), notificationJob(5)))
	assert.Len(t, mailer.sent, 1, "delivered notifications are not sent twice")
}

func TestNotificationProcessorWithoutEmail(t *testing.T) {
	store := newFakeStore()
	store.sellers[7] = &models.Seller{ID: 7}
	store.notifications[6] = &models.Notification{ID: 6, SellerID: 7, Title: "t", Message: "m"}
	mailer := &fakeMailer{}
	p := &NotificationProcessor{Store: store, Mailer: mailer}

	require.NoError(t, p.Process(context.Background(), notificationJob(6)))
	assert.Empty(t, mailer.sent)
	assert.NotNil(t, store.notifications[6].DeliveredAt)
}

func TestNotificationProcessorErrors(t *testing.T) {
	store := newFakeStore()
	store.sellers[117] = &models.Seller{ID: 117, Email: "alice@example.com"}
	store.notifications[5] = &models.Notification{ID: 5, SellerID: 117, Title: "t", Message: "m"}
	mailer := &fakeMailer{err: errors.New("421 try later")}
	p := &NotificationProcessor{Store: store, Mailer: mailer}

	err := p.Process(context.Background(), notificationJob(5))
	assert.ErrorContains(t, err, "421")
	assert.Nil(t, store.notifications[5].DeliveredAt)

	assert.NoError(t, p.Process(context.Background(), notificationJob(99)), "missing notifications are skipped")

	store.loadErr = errors.New("db down")
	assert.Error(t, p.Process(context.Background(), notificationJob(5)))

	bad := &Job{Payload: map[string]interface{}{"notification_id": "x"}}
	assert.Error(t, p.Process(context.Background(), bad))
}

func TestArchiveProcessor(t *testing.T) {
	store := newFakeStore()
	store.events[3] = &models.GatewayEvent{ID: 3, Kind: models.GatewayEventSTKCallback, PayloadJSON: "{}"}
	uploader := &fakeUploader{}
	p := &ArchiveProcessor{Store: store, Uploader: uploader}
	job := &Job{Payload: GatewayEventJobPayload{EventID: 3}.ToMap()}

	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, []uint{3}, uploader.uploaded)
	assert.NotNil(t, store.events[3].ArchivedAt)

	require.NoError(t, p.Process(context.Background(), job))
	assert.Equal(t, []uint{3}, uploader.uploaded, "archived events are skipped")

	assert.NoError(t, p.Process(context.Background(), &Job{Payload: GatewayEventJobPayload{EventID: 404}.ToMap()}))
}

func TestArchiveProcessorUploadFailure(t *testing.T) {
	store := newFakeStore()
	store.events[3] = &models.GatewayEvent{ID: 3}
	p := &ArchiveProcessor{Store: store, Uploader: &fakeUploader{err: errors.New("bucket gone")}}

	err := p.Process(context.Background(), &Job{Payload: GatewayEventJobPayload{EventID: 3}.ToMap()})
	assert.ErrorContains(t, err, "bucket gone")
	assert.Nil(t, store.events[3].ArchivedAt)
}

func TestReplayProcessor(t *testing.T) {
	r := &fakeReplayer{}
	p := &ReplayProcessor{Replayer: r}

	require.NoError(t, p.Process(context.Background(), &Job{Payload: GatewayEventJobPayload{EventID: 12}.ToMap()}))
	assert.Equal(t, []uint{12}, r.replayed)
}
