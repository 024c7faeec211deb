package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Balance backs the ledger. Amount never goes negative; withdrawals
// are conditional updates checked by rows affected.
type Balance struct {
	bun.BaseModel `bun:"table:balances,alias:b"`

	Player    uuid.UUID `bun:"player,pk,type:uuid"`
	Amount    float64   `bun:"amount,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PlayerName maps an identity to its display name.
type PlayerName struct {
	bun.BaseModel `bun:"table:player_names,alias:pn"`

	Player uuid.UUID `bun:"player,pk,type:uuid"`
	Name   string    `bun:"name,notnull"`
}
