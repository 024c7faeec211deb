package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// HouseID marks auctions started by the server itself. House auctions
// have no seller payout and are exempt from the exclusivity rule.
var HouseID = uuid.Nil

type AuctionState string

const (
	AuctionStateScheduled AuctionState = "scheduled"
	AuctionStateActive    AuctionState = "active"
	AuctionStateEnded     AuctionState = "ended"
	AuctionStateCancelled AuctionState = "cancelled"
)

func (s AuctionState) IsScheduled() bool { return s == AuctionStateScheduled }
func (s AuctionState) IsActive() bool    { return s == AuctionStateActive }
func (s AuctionState) IsEnded() bool     { return s == AuctionStateEnded }
func (s AuctionState) IsCancelled() bool { return s == AuctionStateCancelled }

// IsListenable reports whether players can still subscribe to updates.
func (s AuctionState) IsListenable() bool {
	return s == AuctionStateScheduled || s == AuctionStateActive
}

func (s AuctionState) IsCancellable() bool {
	return s == AuctionStateScheduled || s == AuctionStateActive
}

// Auction is one lot. CurrentPrice is the figure shown to players;
// HighestBid is the true top bid and is never disclosed. CurrentBid
// trails CurrentPrice and exists for parity with the wire history.
type Auction struct {
	bun.BaseModel `bun:"table:auctions,alias:a"`

	ID        int64        `bun:"id,pk,autoincrement"`
	Owner     uuid.UUID    `bun:"owner,notnull,type:uuid"`
	Winner    uuid.UUID    `bun:"winner,nullzero,type:uuid"`
	State     AuctionState `bun:"state,notnull"`
	Exclusive bool         `bun:"exclusive,notnull"`

	CurrentBid   float64 `bun:"current_bid,notnull"`
	CurrentPrice float64 `bun:"current_price,notnull"`
	HighestBid   float64 `bun:"highest_bid,notnull"`
	AuctionFee   float64 `bun:"auction_fee,notnull"`

	// Opaque serialized lot contents. Never parsed by the engine,
	// cleared to empty at settlement.
	Inventory string `bun:"inventory,type:text"`

	CreatedTime   time.Time `bun:"created_time,notnull"`
	FullDuration  int64     `bun:"full_duration,notnull"`
	StartTime     time.Time `bun:"start_time,notnull"`
	EndTime       time.Time `bun:"end_time,notnull"`
	AnnouncedTime time.Time `bun:"announced_time,notnull"`
}

// NewAuction builds a scheduled lot. Start, end and announced times
// stay zero until the admission scheduler promotes it.
func NewAuction(owner uuid.UUID, startingPrice float64, inventory string, duration time.Duration) *Auction {
	return &Auction{
		Owner:        owner,
		State:        AuctionStateScheduled,
		CurrentBid:   0,
		CurrentPrice: startingPrice,
		HighestBid:   0,
		Inventory:    inventory,
		CreatedTime:  time.Now(),
		FullDuration: int64(duration.Seconds()),
	}
}

func (a *Auction) RemainingDuration() time.Duration {
	return time.Until(a.EndTime)
}

func (a *Auction) IsOwner(id uuid.UUID) bool  { return a.Owner == id }
func (a *Auction) IsWinner(id uuid.UUID) bool { return a.HasWinner() && a.Winner == id }
func (a *Auction) HasWinner() bool            { return a.Winner != uuid.Nil }
func (a *Auction) IsHouseAuction() bool       { return a.Owner == HouseID }

type LogType string

const (
	LogTypeCreate LogType = "create"
	LogTypeBid    LogType = "bid"
	LogTypeStart  LogType = "start"
	LogTypeWin    LogType = "win"
	LogTypeDebt   LogType = "debt"
	LogTypeFail   LogType = "fail"
	LogTypeCancel LogType = "cancel"
)

// AuctionLog is an immutable audit entry. Rows are only ever inserted.
type AuctionLog struct {
	bun.BaseModel `bun:"table:auction_logs,alias:al"`

	ID        int64     `bun:"id,pk,autoincrement"`
	AuctionID int64     `bun:"auction_id,notnull"`
	Time      time.Time `bun:"time,notnull"`
	Type      LogType   `bun:"type,notnull"`
	Player    uuid.UUID `bun:"player,nullzero,type:uuid"`
	Money     float64   `bun:"money,notnull"`
}

func NewAuctionLog(auctionID int64, logType LogType, player uuid.UUID, money float64) *AuctionLog {
	return &AuctionLog{
		AuctionID: auctionID,
		Time:      time.Now(),
		Type:      logType,
		Player:    player,
		Money:     money,
	}
}
