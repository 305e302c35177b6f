package repository

import (
	"context"
	"strings"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"gorm.io/gorm"
)

// sellerRepository implements the SellerRepository interface
type sellerRepository struct {
	db *gorm.DB
}

// NewSellerRepository creates a new seller repository instance
func NewSellerRepository(db *gorm.DB) SellerRepository {
	return &sellerRepository{db: db}
}

// Create creates a new seller in the database
func (r *sellerRepository) Create(ctx context.Context, seller *models.Seller) error {
	return r.db.WithContext(ctx).Create(seller).Error
}

// GetByID retrieves a seller that has not been deleted
func (r *sellerRepository) GetByID(ctx context.Context, id uint) (*models.Seller, error) {
	var seller models.Seller
	err := r.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

// GetByAPIKeyHash resolves an active API key hash to its seller.
func (r *sellerRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Seller, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var seller models.Seller
	err := r.db.WithContext(ctx).
		Where("api_key_hash = ? AND api_key_hash <> '' AND api_key_revoked_at IS NULL AND deleted = ?", trimmed, false).
		First(&seller).Error
	if err != nil {
		return nil, err
	}
	return &seller, nil
}

// Update saves all seller fields
func (r *sellerRepository) Update(ctx context.Context, seller *models.Seller) error {
	return r.db.WithContext(ctx).Save(seller).Error
}

// TouchAPIKeyUsage records the last use of a seller's API key.
func (r *sellerRepository) TouchAPIKeyUsage(ctx context.Context, id uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Seller{}).
		Where("id = ?", id).
		UpdateColumn("api_key_last_used_at", at).Error
}
