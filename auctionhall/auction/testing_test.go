package auction

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
	"github.com/gildhall/auctionhall/auctionhall/economy"
	"github.com/gildhall/auctionhall/auctionhall/roster"
)

// fakeAuctions is an in-memory AuctionRepository. Find and PlayersFor
// return copies so actors mutate their own snapshots, the way rows
// scanned from a real database are independent of the stored state.
type fakeAuctions struct {
	mu          sync.Mutex
	nextID      int64
	rows        map[int64]*models.Auction
	players     map[int64]map[uuid.UUID]*models.PlayerAuction
	logs        []*models.AuctionLog
	failUpdates bool
}

func newFakeAuctions() *fakeAuctions {
	return &fakeAuctions{
		rows:    make(map[int64]*models.Auction),
		players: make(map[int64]map[uuid.UUID]*models.PlayerAuction),
	}
}

func (f *fakeAuctions) DB() *bun.DB { return nil }

func (f *fakeAuctions) Insert(_ context.Context, auction *models.Auction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	auction.ID = f.nextID
	clone := *auction
	f.rows[auction.ID] = &clone
	return nil
}

func (f *fakeAuctions) Find(_ context.Context, id int64) (*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, fmt.Errorf("auction %d not found", id)
	}
	clone := *row
	return &clone, nil
}

func (f *fakeAuctions) ActiveIDs(_ context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for id, row := range f.rows {
		if row.State.IsActive() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeAuctions) Scheduled(_ context.Context) ([]*models.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Auction
	for _, row := range f.rows {
		if row.State.IsScheduled() {
			clone := *row
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.Before(out[j].CreatedTime) })
	return out, nil
}

func (f *fakeAuctions) UpdateColumns(_ context.Context, auction *models.Auction, columns ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates {
		return 0, nil
	}
	row, ok := f.rows[auction.ID]
	if !ok {
		return 0, nil
	}
	for _, col := range columns {
		switch col {
		case "state":
			row.State = auction.State
		case "exclusive":
			row.Exclusive = auction.Exclusive
		case "inventory":
			row.Inventory = auction.Inventory
		case "current_bid":
			row.CurrentBid = auction.CurrentBid
		case "current_price":
			row.CurrentPrice = auction.CurrentPrice
		case "highest_bid":
			row.HighestBid = auction.HighestBid
		case "winner":
			row.Winner = auction.Winner
		case "start_time":
			row.StartTime = auction.StartTime
		case "end_time":
			row.EndTime = auction.EndTime
		case "announced_time":
			row.AnnouncedTime = auction.AnnouncedTime
		default:
			return 0, fmt.Errorf("unexpected column %q", col)
		}
	}
	return 1, nil
}

func (f *fakeAuctions) CancelIfCancellable(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok || row.HasWinner() || !row.State.IsCancellable() {
		return 0, nil
	}
	row.State = models.AuctionStateCancelled
	row.Exclusive = false
	return 1, nil
}

func (f *fakeAuctions) ExclusiveCount(_ context.Context, owner uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, row := range f.rows {
		if row.Exclusive && row.Owner == owner {
			count++
		}
	}
	return count, nil
}

func (f *fakeAuctions) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, id)
	delete(f.players, id)
	return nil
}

func (f *fakeAuctions) PlayersFor(_ context.Context, auctionID int64) ([]*models.PlayerAuction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.PlayerAuction
	for _, row := range f.players[auctionID] {
		clone := *row
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeAuctions) UpsertPlayer(_ context.Context, row *models.PlayerAuction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	byPlayer, ok := f.players[row.AuctionID]
	if !ok {
		byPlayer = make(map[uuid.UUID]*models.PlayerAuction)
		f.players[row.AuctionID] = byPlayer
	}
	clone := *row
	byPlayer[row.Player] = &clone
	return nil
}

func (f *fakeAuctions) InsertLog(_ context.Context, log *models.AuctionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAuctions) LogsFor(_ context.Context, auctionID int64) ([]*models.AuctionLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AuctionLog
	for _, log := range f.logs {
		if log.AuctionID == auctionID {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeAuctions) logTypes(auctionID int64) []models.LogType {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LogType
	for _, log := range f.logs {
		if log.AuctionID == auctionID {
			out = append(out, log.Type)
		}
	}
	return out
}

func (f *fakeAuctions) stored(id int64) models.Auction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.rows[id]
}

type fakeDeliveries struct {
	mu          sync.Mutex
	nextID      int64
	rows        map[int64]*models.Delivery
	failDeletes bool
}

func newFakeDeliveries() *fakeDeliveries {
	return &fakeDeliveries{rows: make(map[int64]*models.Delivery)}
}

func (f *fakeDeliveries) Insert(_ context.Context, delivery *models.Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	delivery.ID = f.nextID
	clone := *delivery
	f.rows[delivery.ID] = &clone
	return nil
}

func (f *fakeDeliveries) OldestFor(_ context.Context, owner uuid.UUID) (*models.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *models.Delivery
	for _, row := range f.rows {
		if row.Owner != owner {
			continue
		}
		if oldest == nil || row.CreationTime.Before(oldest.CreationTime) {
			oldest = row
		}
	}
	if oldest == nil {
		return nil, nil
	}
	clone := *oldest
	return &clone, nil
}

func (f *fakeDeliveries) Owners(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, row := range f.rows {
		if _, ok := seen[row.Owner]; !ok {
			seen[row.Owner] = struct{}{}
			out = append(out, row.Owner)
		}
	}
	return out, nil
}

func (f *fakeDeliveries) Delete(_ context.Context, id int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeletes {
		return 0, nil
	}
	if _, ok := f.rows[id]; !ok {
		return 0, nil
	}
	delete(f.rows, id)
	return 1, nil
}

func (f *fakeDeliveries) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeDeliveries) all() []models.Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Delivery
	for _, row := range f.rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// testEnv bundles a Deps wired entirely with in-memory fakes.
type testEnv struct {
	deps       *Deps
	auctions   *fakeAuctions
	deliveries *fakeDeliveries
	ledger     *economy.MemoryLedger
	bus        *MemoryBus
	roster     *roster.Static
	notifier   *RecordingNotifier
}

func newTestEnv() *testEnv {
	auctions := newFakeAuctions()
	deliveries := newFakeDeliveries()
	ledger := economy.NewMemoryLedger()
	bus := NewMemoryBus()
	r := &roster.Static{}
	notifier := &RecordingNotifier{}
	return &testEnv{
		deps: &Deps{
			Auctions:   auctions,
			Deliveries: deliveries,
			Ledger:     ledger,
			Bus:        bus,
			Announcer:  NewAnnouncer(r, notifier),
		},
		auctions:   auctions,
		deliveries: deliveries,
		ledger:     ledger,
		bus:        bus,
		roster:     r,
		notifier:   notifier,
	}
}

func (e *testEnv) connect(name string) uuid.UUID {
	id := uuid.New()
	e.roster.Players = append(e.roster.Players, roster.Player{ID: id, Name: name, Origin: "test"})
	return id
}

func (e *testEnv) fund(player uuid.UUID, amount float64) {
	_ = e.ledger.Give(context.Background(), player, amount)
}

func (e *testEnv) activeAuction(owner uuid.UUID, price float64, duration time.Duration) (*Actor, int64) {
	row := models.NewAuction(owner, price, "payload", duration)
	row.Exclusive = owner != models.HouseID
	_ = e.auctions.Insert(context.Background(), row)

	actor := NewActor(e.deps, row.ID)
	if err := actor.Load(context.Background()); err != nil {
		panic(err)
	}
	if err := actor.Start(context.Background()); err != nil {
		panic(err)
	}
	return actor, row.ID
}
