package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Delivery is a pending payout or return awaiting manual collection.
// Owner is the recipient who must collect; when debt is non-zero it
// must be paid before collecting, and the payment goes to
// MoneyRecipient at collection time, not at settlement time.
type Delivery struct {
	bun.BaseModel `bun:"table:deliveries,alias:d"`

	ID             int64     `bun:"id,pk,autoincrement"`
	AuctionID      int64     `bun:"auction_id,notnull"`
	Owner          uuid.UUID `bun:"owner,notnull,type:uuid"`
	Inventory      string    `bun:"inventory,type:text"`
	Debt           float64   `bun:"debt,notnull"`
	MoneyRecipient uuid.UUID `bun:"money_recipient,notnull,type:uuid"`
	CreationTime   time.Time `bun:"creation_time,notnull"`
}

// NewDelivery copies the lot payload out of the auction row so the
// delivery has an independent lifetime.
func NewDelivery(auction *Auction, owner uuid.UUID, debt float64) *Delivery {
	return &Delivery{
		AuctionID:      auction.ID,
		Owner:          owner,
		Inventory:      auction.Inventory,
		Debt:           debt,
		MoneyRecipient: auction.Owner,
		CreationTime:   time.Now(),
	}
}

func (d *Delivery) HasDebt() bool { return d.Debt >= 0.01 }

// IsReturn reports whether the lot goes back to the seller.
func (d *Delivery) IsReturn() bool { return d.Owner == d.MoneyRecipient }

func (d *Delivery) WasHouseAuction() bool { return d.MoneyRecipient == HouseID }
