package payments

import (
	"context"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/carboncube/tierpay/internal/pkg/tiers"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Gateway is the push-payment API used by the service.
type Gateway interface {
	Push(ctx context.Context, in mpesa.PushRequest) (*mpesa.PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.StatusResult, error)
}

// Notifier delivers activation notifications. It must not block.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification)
}

// AttemptLimiter counts failed manual verification attempts per seller in a
// rolling window.
type AttemptLimiter interface {
	Failures(ctx context.Context, sellerID uint) (int64, error)
	RecordFailure(ctx context.Context, sellerID uint) error
}

// EventArchiver receives gateway events after they were recorded.
type EventArchiver interface {
	ArchiveEvent(ctx context.Context, eventID uint)
}

// Deps wires a Service.
type Deps struct {
	Repo     Repository
	Catalog  *tiers.Catalog
	Gateway  Gateway
	Notifier Notifier
	Attempts AttemptLimiter
	Archiver EventArchiver
	Config   Config
	Now      func() time.Time
}

// Service implements intent creation, settlement, activation and manual
// verification of tier payments.
type Service struct {
	repo     Repository
	catalog  *tiers.Catalog
	gateway  Gateway
	notifier Notifier
	attempts AttemptLimiter
	archiver EventArchiver
	cfg      Config
	now      func() time.Time
}

// NewService creates a payments service from its collaborators.
func NewService(d Deps) *Service {
	s := &Service{
		repo:     d.Repo,
		catalog:  d.Catalog,
		gateway:  d.Gateway,
		notifier: d.Notifier,
		attempts: d.Attempts,
		archiver: d.Archiver,
		cfg:      d.Config,
		now:      d.Now,
	}
	if s.catalog == nil {
		s.catalog = tiers.NewCatalog()
	}
	if s.notifier == nil {
		s.notifier = logNotifier{}
	}
	if s.attempts == nil {
		log.Warn("[Payments] No attempt limiter configured, manual verification is not rate limited")
		s.attempts = unlimitedAttempts{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NewServiceFromDB creates a service backed by a GORM handle.
func NewServiceFromDB(db *gorm.DB, d Deps) *Service {
	d.Repo = NewRepository(db)
	return NewService(d)
}

// Catalog returns the tier catalog used by the service.
func (s *Service) Catalog() *tiers.Catalog {
	return s.catalog
}

// Repository exposes the repository for background jobs.
func (s *Service) Repository() Repository {
	return s.repo
}

func (s *Service) dispatch(ctx context.Context, notes []*models.Notification) {
	for _, n := range notes {
		if n != nil {
			s.notifier.Notify(ctx, n)
		}
	}
}

type logNotifier struct{}

func (logNotifier) Notify(_ context.Context, n *models.Notification) {
	log.Infof("[Payments] Notification %d for seller %d: %s", n.ID, n.SellerID, n.Title)
}

type unlimitedAttempts struct{}

func (unlimitedAttempts) Failures(context.Context, uint) (int64, error) { return 0, nil }
func (unlimitedAttempts) RecordFailure(context.Context, uint) error     { return nil }
