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

type AuctionRepository interface {
	DB() *bun.DB
	Insert(ctx context.Context, auction *models.Auction) error
	Find(ctx context.Context, id int64) (*models.Auction, error)
	ActiveIDs(ctx context.Context) ([]int64, error)
	Scheduled(ctx context.Context) ([]*models.Auction, error)
	UpdateColumns(ctx context.Context, auction *models.Auction, columns ...string) (int64, error)
	CancelIfCancellable(ctx context.Context, id int64) (int64, error)
	ExclusiveCount(ctx context.Context, owner uuid.UUID) (int, error)
	Delete(ctx context.Context, id int64) error
	PlayersFor(ctx context.Context, auctionID int64) ([]*models.PlayerAuction, error)
	UpsertPlayer(ctx context.Context, row *models.PlayerAuction) error
	InsertLog(ctx context.Context, log *models.AuctionLog) error
	LogsFor(ctx context.Context, auctionID int64) ([]*models.AuctionLog, error)
}

type auctionRepository struct {
	db *bun.DB
}

func NewAuctionRepository(db *bun.DB) AuctionRepository {
	return &auctionRepository{db: db}
}

func (r *auctionRepository) DB() *bun.DB {
	return r.db
}

func (r *auctionRepository) Insert(ctx context.Context, auction *models.Auction) error {
	_, err := r.db.NewInsert().Model(auction).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) Find(ctx context.Context, id int64) (*models.Auction, error) {
	auction := new(models.Auction)
	err := r.db.NewSelect().
		Model(auction).
		Where("id = ?", id).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("auction %d not found", id)
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return auction, nil
}

// ActiveIDs returns the ids of all active lots. The refresh sweep
// reconciles the in-memory actor map against this set.
func (r *auctionRepository) ActiveIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Column("id").
		Where("state = ?", models.AuctionStateActive).
		Scan(ctx, &ids)

	if err != nil {
		return nil, fmt.Errorf("failed to get active auction ids: %w", err)
	}
	return ids, nil
}

func (r *auctionRepository) Scheduled(ctx context.Context) ([]*models.Auction, error) {
	var auctions []*models.Auction
	err := r.db.NewSelect().
		Model(&auctions).
		Where("state = ?", models.AuctionStateScheduled).
		Order("created_time ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled auctions: %w", err)
	}
	return auctions, nil
}

// UpdateColumns persists the named columns of an already mutated row
// and reports rows affected. Zero rows means the write did not apply;
// callers must not broadcast in that case.
func (r *auctionRepository) UpdateColumns(ctx context.Context, auction *models.Auction, columns ...string) (int64, error) {
	result, err := r.db.NewUpdate().
		Model(auction).
		Column(columns...).
		WherePK().
		Exec(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to update auction: %w", err)
	}
	return result.RowsAffected()
}

// CancelIfCancellable is a compare-and-set: the row flips to cancelled
// only while it is still scheduled or active and has no winner.
func (r *auctionRepository) CancelIfCancellable(ctx context.Context, id int64) (int64, error) {
	result, err := r.db.NewUpdate().
		Model((*models.Auction)(nil)).
		Set("state = ?", models.AuctionStateCancelled).
		Set("exclusive = ?", false).
		Where("id = ?", id).
		Where("state IN (?)", bun.In([]models.AuctionState{models.AuctionStateScheduled, models.AuctionStateActive})).
		Where("winner IS NULL").
		Exec(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to cancel auction: %w", err)
	}
	return result.RowsAffected()
}

func (r *auctionRepository) ExclusiveCount(ctx context.Context, owner uuid.UUID) (int, error) {
	count, err := r.db.NewSelect().
		Model((*models.Auction)(nil)).
		Where("exclusive = ?", true).
		Where("owner = ?", owner).
		Count(ctx)

	if err != nil {
		return 0, fmt.Errorf("failed to count exclusive auctions: %w", err)
	}
	return count, nil
}

// Delete is the administrative purge. Normal flow never deletes rows;
// ended and cancelled lots persist for history.
func (r *auctionRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.NewDelete().
		Model((*models.Auction)(nil)).
		Where("id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}
	if _, err := r.db.NewDelete().
		Model((*models.AuctionLog)(nil)).
		Where("auction_id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete auction logs: %w", err)
	}
	if _, err := r.db.NewDelete().
		Model((*models.PlayerAuction)(nil)).
		Where("auction_id = ?", id).
		Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete player auctions: %w", err)
	}
	return nil
}

func (r *auctionRepository) PlayersFor(ctx context.Context, auctionID int64) ([]*models.PlayerAuction, error) {
	var rows []*models.PlayerAuction
	err := r.db.NewSelect().
		Model(&rows).
		Where("auction_id = ?", auctionID).
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get player auctions: %w", err)
	}
	return rows, nil
}

func (r *auctionRepository) UpsertPlayer(ctx context.Context, row *models.PlayerAuction) error {
	_, err := r.db.NewInsert().
		Model(row).
		On("CONFLICT (auction_id, player) DO UPDATE").
		Set("bid = EXCLUDED.bid").
		Set("listen_type = EXCLUDED.listen_type").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to upsert player auction: %w", err)
	}
	return nil
}

func (r *auctionRepository) InsertLog(ctx context.Context, log *models.AuctionLog) error {
	_, err := r.db.NewInsert().Model(log).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert auction log: %w", err)
	}
	return nil
}

func (r *auctionRepository) LogsFor(ctx context.Context, auctionID int64) ([]*models.AuctionLog, error) {
	var logs []*models.AuctionLog
	err := r.db.NewSelect().
		Model(&logs).
		Where("auction_id = ?", auctionID).
		Order("time ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("failed to get auction logs: %w", err)
	}
	return logs, nil
}
