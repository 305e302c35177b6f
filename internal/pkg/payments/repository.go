package payments

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the payments service. Methods
// called on the repository handed to a Transaction callback run inside that
// transaction; nested Transaction calls become savepoints.
type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error

	GetSeller(ctx context.Context, id uint) (*models.Seller, error)
	LockSeller(ctx context.Context, id uint) (*models.Seller, error)
	FindSellerByAccount(ctx context.Context, account string) (*models.Seller, error)
	GetSellerTier(ctx context.Context, sellerID uint) (*models.SellerTier, error)
	UpsertSellerTier(ctx context.Context, st *models.SellerTier) error
	ListTiersWithPricings(ctx context.Context) ([]models.Tier, error)

	CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error
	GetTransaction(ctx context.Context, id uint) (*models.PaymentTransaction, error)
	GetTransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error)
	FindOpenTransaction(ctx context.Context, sellerID, tierID uint) (*models.PaymentTransaction, error)
	FindRecentFailure(ctx context.Context, sellerID, tierID uint, since time.Time) (*models.PaymentTransaction, error)
	ListTransactions(ctx context.Context, sellerID uint, limit int) ([]models.PaymentTransaction, error)
	ListStaleTransactions(ctx context.Context, sellerID uint, statuses []string, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error)
	ListUnsettledPushes(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error)
	ListActivationFailures(ctx context.Context, limit int) ([]models.PaymentTransaction, error)
	TransitionStatus(ctx context.Context, id uint, from []string, fields map[string]any) (bool, error)
	UpdateTransactionFields(ctx context.Context, id uint, fields map[string]any) error
	CompletedReceiptExists(ctx context.Context, receipt string) (bool, error)

	CreatePaymentIfNotExists(ctx context.Context, p *models.Payment) (bool, error)
	FindPaymentByTransID(ctx context.Context, transID string) (*models.Payment, error)
	MarkPaymentAttributed(ctx context.Context, id, sellerID, tierID uint) error
	ListUnattributedPayments(ctx context.Context, limit int) ([]models.Payment, error)

	RecentNotificationExists(ctx context.Context, sellerID uint, kind string, since time.Time) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, id uint) (*models.Notification, error)
	MarkNotificationDelivered(ctx context.Context, id uint) error

	CreateGatewayEventIfNotExists(ctx context.Context, event *models.GatewayEvent) (bool, *models.GatewayEvent, error)
	MarkGatewayEventProcessed(ctx context.Context, id uint, processingError string) error
	MarkGatewayEventArchived(ctx context.Context, id uint) error
	GetGatewayEvent(ctx context.Context, id uint) (*models.GatewayEvent, error)
	ListFailedGatewayEvents(ctx context.Context, limit int) ([]models.GatewayEvent, error)
}

var openStatuses = []string{
	models.PaymentStatusInitiated,
	models.PaymentStatusPending,
	models.PaymentStatusProcessing,
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payments repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetSeller(ctx context.Context, id uint) (*models.Seller, error) {
	var s models.Seller
	if err := r.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) LockSeller(ctx context.Context, id uint) (*models.Seller, error) {
	var s models.Seller
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) FindSellerByAccount(ctx context.Context, account string) (*models.Seller, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var s models.Seller
	err := r.db.WithContext(ctx).
		Where("deleted = ? AND (phone_number = ? OR business_registration_number = ?)", false, account, account).
		Order("id ASC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) GetSellerTier(ctx context.Context, sellerID uint) (*models.SellerTier, error) {
	var st models.SellerTier
	err := r.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (r *gormRepository) UpsertSellerTier(ctx context.Context, st *models.SellerTier) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "seller_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tier_id",
			"duration_months",
			"expires_at",
			"payment_transaction_id",
			"updated_at",
		}),
	}).Create(st).Error
}

func (r *gormRepository) ListTiersWithPricings(ctx context.Context) ([]models.Tier, error) {
	var rows []models.Tier
	err := r.db.WithContext(ctx).Preload("Pricings").Order("`rank` ASC").Find(&rows).Error
	return rows, err
}

func (r *gormRepository) CreateTransaction(ctx context.Context, tx *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *gormRepository) GetTransaction(ctx context.Context, id uint) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) GetTransactionByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	if err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) FindOpenTransaction(ctx context.Context, sellerID, tierID uint) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND tier_id = ? AND status IN ?", sellerID, tierID, openStatuses).
		Order("id DESC").
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) FindRecentFailure(ctx context.Context, sellerID, tierID uint, since time.Time) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND tier_id = ? AND status = ? AND failed_at >= ?", sellerID, tierID, models.PaymentStatusFailed, since).
		Order("failed_at DESC").
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *gormRepository) ListTransactions(ctx context.Context, sellerID uint, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListStaleTransactions returns transactions in one of the statuses created
// before the cutoff. A zero sellerID matches every seller.
func (r *gormRepository) ListStaleTransactions(ctx context.Context, sellerID uint, statuses []string, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	q := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?", statuses, createdBefore)
	if sellerID != 0 {
		q = q.Where("seller_id = ?", sellerID)
	}
	var rows []models.PaymentTransaction
	err := q.Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// ListUnsettledPushes returns pending or processing STK pushes that carry a
// checkout id and were created before the cutoff.
func (r *gormRepository) ListUnsettledPushes(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND transaction_type = ? AND checkout_request_id IS NOT NULL AND created_at < ?",
			[]string{models.PaymentStatusPending, models.PaymentStatusProcessing}, models.PaymentTypeSTKPush, createdBefore).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *gormRepository) ListActivationFailures(ctx context.Context, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND activation_error <> ''", models.PaymentStatusCompleted).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// TransitionStatus applies fields only while the row still has one of the
// from statuses. It reports whether this call won the update.
func (r *gormRepository) TransitionStatus(ctx context.Context, id uint, from []string, fields map[string]any) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) UpdateTransactionFields(ctx context.Context, id uint, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.PaymentTransaction{}).Where("id = ?", id).Updates(fields).Error
}

func (r *gormRepository) CompletedReceiptExists(ctx context.Context, receipt string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("completed_receipt = ?", receipt).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreatePaymentIfNotExists(ctx context.Context, p *models.Payment) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "trans_id"},
			{Name: "business_short_code"},
		},
		DoNothing: true,
	}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) FindPaymentByTransID(ctx context.Context, transID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("trans_id = ?", transID).Order("id ASC").First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// MarkPaymentAttributed binds a deposit to a seller. A deposit already bound
// to another seller is left untouched.
func (r *gormRepository) MarkPaymentAttributed(ctx context.Context, id, sellerID, tierID uint) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND (seller_id IS NULL OR seller_id = ?)", id, sellerID).
		Updates(map[string]any{
			"attributed": true,
			"seller_id":  sellerID,
			"tier_id":    tierID,
		}).Error
}

func (r *gormRepository) ListUnattributedPayments(ctx context.Context, limit int) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.db.WithContext(ctx).Where("attributed = ?", false).Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *gormRepository) RecentNotificationExists(ctx context.Context, sellerID uint, kind string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("seller_id = ? AND kind = ? AND created_at >= ?", sellerID, kind, since).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *gormRepository) GetNotification(ctx context.Context, id uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *gormRepository) MarkNotificationDelivered(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("id = ?", id).Update("delivered_at", &now).Error
}

func (r *gormRepository) CreateGatewayEventIfNotExists(ctx context.Context, event *models.GatewayEvent) (bool, *models.GatewayEvent, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "kind"},
			{Name: "event_key"},
		},
		DoNothing: true,
	}).Create(event)
	if res.Error != nil {
		return false, nil, res.Error
	}

	created := res.RowsAffected > 0
	var stored models.GatewayEvent
	if err := r.db.WithContext(ctx).Where("kind = ? AND event_key = ?", event.Kind, event.EventKey).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkGatewayEventProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.GatewayEvent{}).Where("id = ?", id).Updates(map[string]any{
		"processed_at":     &now,
		"processing_error": processingError,
	}).Error
}

func (r *gormRepository) MarkGatewayEventArchived(ctx context.Context, id uint) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&models.GatewayEvent{}).Where("id = ?", id).Update("archived_at", &now).Error
}

func (r *gormRepository) GetGatewayEvent(ctx context.Context, id uint) (*models.GatewayEvent, error) {
	var e models.GatewayEvent
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *gormRepository) ListFailedGatewayEvents(ctx context.Context, limit int) ([]models.GatewayEvent, error) {
	var rows []models.GatewayEvent
	err := r.db.WithContext(ctx).
		Where("processing_error <> ''").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
