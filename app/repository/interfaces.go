package repository

import (
	"context"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"gorm.io/gorm"
)

// SellerRepository defines the seller operations used outside the payment
// service: API key authentication and key management.
type SellerRepository interface {
	Create(ctx context.Context, seller *models.Seller) error
	GetByID(ctx context.Context, id uint) (*models.Seller, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Seller, error)
	Update(ctx context.Context, seller *models.Seller) error
	TouchAPIKeyUsage(ctx context.Context, id uint, at time.Time) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Seller SellerRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Seller: NewSellerRepository(db),
	}
}
