package economy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

// Ledger is the money collaborator. Take is conditional: it reports
// false without mutating anything when the player cannot afford the
// amount.
type Ledger interface {
	Has(ctx context.Context, player uuid.UUID, amount float64) (bool, error)
	Take(ctx context.Context, player uuid.UUID, amount float64) (bool, error)
	Give(ctx context.Context, player uuid.UUID, amount float64) error
}

type bunLedger struct {
	db *bun.DB
}

func NewLedger(db *bun.DB) Ledger {
	return &bunLedger{db: db}
}

func (l *bunLedger) Has(ctx context.Context, player uuid.UUID, amount float64) (bool, error) {
	balance := new(models.Balance)
	err := l.db.NewSelect().
		Model(balance).
		Where("player = ?", player).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance.Amount >= amount, nil
}

func (l *bunLedger) Take(ctx context.Context, player uuid.UUID, amount float64) (bool, error) {
	result, err := l.db.NewUpdate().
		Model((*models.Balance)(nil)).
		Set("amount = amount - ?", amount).
		Set("updated_at = ?", time.Now()).
		Where("player = ?", player).
		Where("amount >= ?", amount).
		Exec(ctx)

	if err != nil {
		return false, fmt.Errorf("failed to withdraw: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (l *bunLedger) Give(ctx context.Context, player uuid.UUID, amount float64) error {
	_, err := l.db.NewInsert().
		Model(&models.Balance{Player: player, Amount: amount, UpdatedAt: time.Now()}).
		On("CONFLICT (player) DO UPDATE").
		Set("amount = balances.amount + EXCLUDED.amount").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to deposit: %w", err)
	}
	return nil
}

// MemoryLedger holds balances in memory. Test use only.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[uuid.UUID]float64)}
}

func (l *MemoryLedger) Has(_ context.Context, player uuid.UUID, amount float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[player] >= amount, nil
}

func (l *MemoryLedger) Take(_ context.Context, player uuid.UUID, amount float64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[player] < amount {
		return false, nil
	}
	l.balances[player] -= amount
	return true, nil
}

func (l *MemoryLedger) Give(_ context.Context, player uuid.UUID, amount float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[player] += amount
	return nil
}

// Balance is a test helper.
func (l *MemoryLedger) Balance(player uuid.UUID) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[player]
}
