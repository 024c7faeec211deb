package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// PlayerAuction is the per (auction, bidder) relation. The bid column
// keeps a bidder's last submitted amount even after being outbid, for
// sorting and "your bid" display. One row per pair.
type PlayerAuction struct {
	bun.BaseModel `bun:"table:player_auctions,alias:pa"`

	ID           int64     `bun:"id,pk,autoincrement"`
	AuctionID    int64     `bun:"auction_id,notnull,unique:player_auctions_auction_player"`
	Player       uuid.UUID `bun:"player,notnull,type:uuid,unique:player_auctions_auction_player"`
	Bid          float64   `bun:"bid,notnull"`
	ListenType   string    `bun:"listen_type,notnull"`
	CreationTime time.Time `bun:"creation_time,notnull"`
}

func NewPlayerAuction(auctionID int64, player uuid.UUID, listenType string) *PlayerAuction {
	return &PlayerAuction{
		AuctionID:    auctionID,
		Player:       player,
		ListenType:   listenType,
		CreationTime: time.Now(),
	}
}
