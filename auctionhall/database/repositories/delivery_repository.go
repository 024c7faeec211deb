package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

type DeliveryRepository interface {
	Insert(ctx context.Context, delivery *models.Delivery) error
	OldestFor(ctx context.Context, owner uuid.UUID) (*models.Delivery, error)
	Owners(ctx context.Context) ([]uuid.UUID, error)
	Delete(ctx context.Context, id int64) (int64, error)
}

type deliveryRepository struct {
	db *bun.DB
}

func NewDeliveryRepository(db *bun.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) Insert(ctx context.Context, delivery *models.Delivery) error {
	_, err := r.db.NewInsert().Model(delivery).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert delivery: %w", err)
	}
	return nil
}

// OldestFor returns the next delivery waiting for a recipient, or nil
// when none is pending.
func (r *deliveryRepository) OldestFor(ctx context.Context, owner uuid.UUID) (*models.Delivery, error) {
	delivery := new(models.Delivery)
	err := r.db.NewSelect().
		Model(delivery).
		Where("owner = ?", owner).
		Order("creation_time ASC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return delivery, nil
}

// Owners returns every identity with at least one pending delivery.
func (r *deliveryRepository) Owners(ctx context.Context) ([]uuid.UUID, error) {
	var owners []uuid.UUID
	err := r.db.NewSelect().
		Model((*models.Delivery)(nil)).
		ColumnExpr("DISTINCT owner").
		Scan(ctx, &owners)

	if err != nil {
		return nil, fmt.Errorf("failed to get delivery owners: %w", err)
	}
	return owners, nil
}

// Delete reports rows affected so a collection racing another node
// can detect the delivery is already gone.
func (r *deliveryRepository) Delete(ctx context.Context, id int64) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.Delivery)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to delete delivery: %w", err)
	}
	return result.RowsAffected()
}
