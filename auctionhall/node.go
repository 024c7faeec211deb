package auctionhall

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gildhall/auctionhall/auctionhall/auction"
	"github.com/gildhall/auctionhall/auctionhall/database"
	"github.com/gildhall/auctionhall/auctionhall/database/repositories"
	"github.com/gildhall/auctionhall/auctionhall/economy"
	"github.com/gildhall/auctionhall/auctionhall/roster"
)

func New(cfg Config, version string, commit string) *Node {
	return &Node{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// Node wires one process's collaborators together. Construction is
// Setup after the DB and Redis connections exist.
type Node struct {
	Cfg     Config
	Version string
	Commit  string

	DB                 *database.DB
	Redis              *redis.Client
	AuctionRepository  repositories.AuctionRepository
	DeliveryRepository repositories.DeliveryRepository
	Ledger             economy.Ledger
	Roster             roster.Roster
	Bus                auction.Bus
	House              *auction.House
}

// Setup builds the repository, economy and auction layers on top of
// the already-open DB and Redis connections.
func (n *Node) Setup(notifier auction.Notifier) error {
	if n.DB == nil || n.Redis == nil {
		return fmt.Errorf("node requires DB and Redis connections before setup")
	}

	n.AuctionRepository = repositories.NewAuctionRepository(n.DB.BunDB())
	n.DeliveryRepository = repositories.NewDeliveryRepository(n.DB.BunDB())
	n.Ledger = economy.NewLedger(n.DB.BunDB())

	r, err := roster.New(n.DB.BunDB(), n.Redis, n.Cfg.Node.Name)
	if err != nil {
		return fmt.Errorf("failed to create roster: %w", err)
	}
	n.Roster = r

	n.Bus = auction.NewRedisBus(n.Redis)
	if notifier == nil {
		notifier = auction.LogNotifier{}
	}

	deps := &auction.Deps{
		Auctions:   n.AuctionRepository,
		Deliveries: n.DeliveryRepository,
		Ledger:     n.Ledger,
		Bus:        n.Bus,
		Announcer:  auction.NewAnnouncer(n.Roster, notifier),
	}
	n.House = auction.NewHouse(deps, n.Roster, auction.Options{
		Manager:        n.Cfg.Node.Manager,
		TickInterval:   n.Cfg.Auction.TickInterval(),
		SweepInterval:  n.Cfg.Auction.SweepInterval(),
		RemindInterval: n.Cfg.Auction.RemindInterval(),
	})

	slog.Info("Node initialized",
		slog.String("node", n.Cfg.Node.Name),
		slog.Bool("manager", n.Cfg.Node.Manager))
	return nil
}

// Run drives the house until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	return n.House.Run(ctx)
}

func (n *Node) Close() {
	if n.Redis != nil {
		if err := n.Redis.Close(); err != nil {
			slog.Error("Failed to close redis client", slog.Any("error", err))
		}
	}
	if n.DB != nil {
		n.DB.Close()
	}
}
