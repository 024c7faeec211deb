package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
	"github.com/gildhall/auctionhall/auctionhall/database/repositories"
	"github.com/gildhall/auctionhall/auctionhall/economy"
)

// reannounceInterval is how long an active lot stays quiet before its
// status is broadcast again.
const reannounceInterval = 5 * time.Minute

var (
	ErrInsufficientFunds = errors.New("you cannot afford that bid")
	ErrNotCancellable    = errors.New("auction can no longer be cancelled")
	ErrNotListenable     = errors.New("auction no longer accepts listen changes")
)

// Deps bundles the collaborators every actor shares.
type Deps struct {
	Auctions   repositories.AuctionRepository
	Deliveries repositories.DeliveryRepository
	Ledger     economy.Ledger
	Bus        Bus
	Announcer  *Announcer
}

// Actor owns the in-memory copy of one lot. All mutations run under
// its mutex, so per-auction operations are serialized the way a
// single-threaded event loop would serialize them. Durable state lives
// in the repository; the actor is a cache plus the transition logic.
type Actor struct {
	deps *Deps
	id   int64

	mu      sync.Mutex
	loading bool
	loaded  bool
	row     *models.Auction
	players map[uuid.UUID]*models.PlayerAuction
}

func NewActor(deps *Deps, id int64) *Actor {
	return &Actor{
		deps:    deps,
		id:      id,
		players: make(map[uuid.UUID]*models.PlayerAuction),
	}
}

func (a *Actor) ID() int64 { return a.id }

// Load (re)reads the lot and its per-player rows. Concurrent loads
// collapse into one; the duplicate caller returns immediately and the
// in-flight load's result wins.
func (a *Actor) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.loading {
		a.mu.Unlock()
		return nil
	}
	a.loading = true
	a.mu.Unlock()

	row, err := a.deps.Auctions.Find(ctx, a.id)
	if err != nil {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
		return fmt.Errorf("failed to load auction %d: %w", a.id, err)
	}
	playerRows, err := a.deps.Auctions.PlayersFor(ctx, a.id)
	if err != nil {
		a.mu.Lock()
		a.loading = false
		a.mu.Unlock()
		return fmt.Errorf("failed to load auction %d players: %w", a.id, err)
	}

	players := make(map[uuid.UUID]*models.PlayerAuction, len(playerRows))
	for _, p := range playerRows {
		players[p.Player] = p
	}

	a.mu.Lock()
	a.row = row
	a.players = players
	a.loading = false
	a.loaded = true
	a.mu.Unlock()
	return nil
}

// IsReady reports whether the first load completed. Operations treat a
// not-ready actor as inactive rather than blocking on the load.
func (a *Actor) IsReady() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded && !a.loading
}

func (a *Actor) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded && !a.loading && a.row.State.IsActive()
}

// HasEnded reports a terminal state. False while a reload is in
// flight, so the scheduler never drops an actor mid-refresh.
func (a *Actor) HasEnded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded && !a.loading && (a.row.State.IsEnded() || a.row.State.IsCancelled())
}

// StartedWithin reports whether the lot went active less than d ago.
func (a *Actor) StartedWithin(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded && a.row.State.IsActive() && time.Since(a.row.StartTime) < d
}

// RemainingUnder reports an active lot inside its final stretch.
func (a *Actor) RemainingUnder(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded && a.row.State.IsActive() && a.row.RemainingDuration() <= d
}

// Snapshot returns a copy of the lot row for read-only presentation.
func (a *Actor) Snapshot() (models.Auction, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded {
		return models.Auction{}, false
	}
	return *a.row, true
}

// ListenFor returns the player's stored preference, DEFAULT when the
// player never touched this lot.
func (a *Actor) ListenFor(player uuid.UUID) ListenType {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.players[player]; ok {
		return ParseListenType(p.ListenType)
	}
	return ListenDefault
}

// BidFor returns the player's last accepted bid amount, zero if none.
func (a *Actor) BidFor(player uuid.UUID) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.players[player]; ok {
		return p.Bid
	}
	return 0
}

// HasPlayer reports whether the player holds a row on this lot.
func (a *Actor) HasPlayer(player uuid.UUID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.players[player]
	return ok
}

func (a *Actor) listensLocked() map[uuid.UUID]ListenType {
	listens := make(map[uuid.UUID]ListenType, len(a.players))
	for id, p := range a.players {
		listens[id] = ParseListenType(p.ListenType)
	}
	return listens
}

// Bid validates, resolves and applies one bid. The in-memory state
// mutates first, then the durable row; when the durable write touches
// zero rows the result is logged and no broadcast goes out, leaving
// the next refresh to reconcile. The mutex drops before the broadcast
// and announcements: a synchronous bus subscriber may re-enter this
// actor to reload it.
func (a *Actor) Bid(ctx context.Context, bidder uuid.UUID, amount float64) error {
	a.mu.Lock()
	if !a.loaded || a.loading {
		a.mu.Unlock()
		return ErrNotActive
	}
	if err := Check(a.row, bidder, amount); err != nil {
		a.mu.Unlock()
		return err
	}

	has, err := a.deps.Ledger.Has(ctx, bidder, amount)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to check funds: %w", err)
	}
	if !has {
		a.mu.Unlock()
		return ErrInsufficientFunds
	}

	res, err := Resolve(a.row, bidder, amount)
	if err != nil {
		a.mu.Unlock()
		return err
	}

	previousWinner := a.row.Winner
	a.row.CurrentPrice = res.Price
	a.row.HighestBid = res.Highest
	a.row.Winner = res.Winner
	if res.Type != BidSilent {
		a.row.CurrentBid = res.Price
	}

	playerRow, ok := a.players[bidder]
	if !ok {
		playerRow = models.NewPlayerAuction(a.id, bidder, string(ListenDefault))
		a.players[bidder] = playerRow
	}
	playerRow.Bid = amount
	if err := a.deps.Auctions.UpsertPlayer(ctx, playerRow); err != nil {
		slog.Error("Failed to persist player bid",
			slog.Int64("auction_id", a.id),
			slog.String("player", bidder.String()),
			slog.String("error", err.Error()))
	}

	rows, err := a.deps.Auctions.UpdateColumns(ctx, a.row,
		"current_bid", "current_price", "highest_bid", "winner")
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to persist bid: %w", err)
	}
	if rows == 0 {
		a.mu.Unlock()
		slog.Error("Bid update touched no rows, skipping broadcast",
			slog.Int64("auction_id", a.id),
			slog.String("player", bidder.String()))
		return nil
	}

	if err := a.deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.id, models.LogTypeBid, bidder, amount)); err != nil {
		slog.Error("Failed to log bid",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	owner := a.row.Owner
	listens := a.listensLocked()
	a.mu.Unlock()

	if err := a.deps.Bus.Broadcast(ctx, Message{Kind: KindRefresh, AuctionID: a.id}); err != nil {
		slog.Error("Failed to broadcast bid refresh",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	a.announceBid(ctx, res, bidder, previousWinner, owner, listens)
	return nil
}

func (a *Actor) announceBid(ctx context.Context, res Resolution, bidder, previousWinner, owner uuid.UUID, listens map[uuid.UUID]ListenType) {
	ann := a.deps.Announcer
	switch res.Type {
	case BidSilent:
		ann.Tell(ctx, bidder, fmt.Sprintf("You raised your bid on auction #%d to %.2f", a.id, res.Highest))
	case BidWinner:
		name := ann.PlayerName(ctx, bidder)
		msg := fmt.Sprintf("%s is now winning auction #%d at %.2f", name, a.id, res.Price)
		ann.Announce(ctx, ListenFocus, listens, msg, bidder, previousWinner, owner)
	case BidRaise:
		msg := fmt.Sprintf("The price of auction #%d rose to %.2f", a.id, res.Price)
		ann.Announce(ctx, ListenFocus, listens, msg, bidder, res.Winner, owner)
	}
}

// Start promotes a scheduled lot to active. Only the admission
// scheduler on the manager node calls this.
func (a *Actor) Start(ctx context.Context) error {
	a.mu.Lock()
	if !a.loaded || a.loading {
		a.mu.Unlock()
		return fmt.Errorf("auction %d not loaded", a.id)
	}
	if !a.row.State.IsScheduled() {
		a.mu.Unlock()
		return fmt.Errorf("auction %d is %s, not scheduled", a.id, a.row.State)
	}

	now := time.Now()
	a.row.State = models.AuctionStateActive
	a.row.StartTime = now
	a.row.EndTime = now.Add(time.Duration(a.row.FullDuration) * time.Second)
	a.row.AnnouncedTime = now

	rows, err := a.deps.Auctions.UpdateColumns(ctx, a.row,
		"state", "start_time", "end_time", "announced_time")
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to start auction %d: %w", a.id, err)
	}
	if rows == 0 {
		a.mu.Unlock()
		return fmt.Errorf("auction %d start touched no rows", a.id)
	}

	if err := a.deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.id, models.LogTypeStart, a.row.Owner, a.row.CurrentPrice)); err != nil {
		slog.Error("Failed to log auction start",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	owner := a.row.Owner
	price := a.row.CurrentPrice
	duration := time.Duration(a.row.FullDuration) * time.Second
	remaining := a.row.RemainingDuration()
	listens := a.listensLocked()
	a.mu.Unlock()

	if err := a.deps.Bus.Broadcast(ctx, Message{Kind: KindRefresh, AuctionID: a.id}); err != nil {
		slog.Error("Failed to broadcast auction start",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	ann := a.deps.Announcer
	msg := fmt.Sprintf("Auction #%d by %s started at %.2f, ends in %s",
		a.id, ann.PlayerName(ctx, owner), price, formatDuration(remaining))
	ann.Announce(ctx, ListenDefault, listens, msg, owner)

	slog.Info("Auction started",
		slog.Int64("auction_id", a.id),
		slog.String("owner", owner.String()),
		slog.Duration("duration", duration))
	return nil
}

// End settles an active lot whose deadline passed. Money moves and the
// delivery row lands before the state flip persists, so a crash in
// between is caught by the rows-affected check on a retried end rather
// than by double-paying.
func (a *Actor) End(ctx context.Context) error {
	a.mu.Lock()
	if !a.loaded || a.loading || !a.row.State.IsActive() {
		a.mu.Unlock()
		return ErrNotActive
	}

	outcome, err := settle(ctx, a.deps, a.row)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to settle auction %d: %w", a.id, err)
	}

	a.row.State = models.AuctionStateEnded
	a.row.Exclusive = false
	a.row.Inventory = ""
	rows, err := a.deps.Auctions.UpdateColumns(ctx, a.row, "state", "exclusive", "inventory")
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to persist auction %d end: %w", a.id, err)
	}
	if rows == 0 {
		a.mu.Unlock()
		slog.Error("Auction end touched no rows",
			slog.Int64("auction_id", a.id))
		return nil
	}

	owner := a.row.Owner
	listens := a.listensLocked()
	a.mu.Unlock()

	if err := a.deps.Bus.Broadcast(ctx, Message{Kind: KindRemove, AuctionID: a.id}); err != nil {
		slog.Error("Failed to broadcast auction end",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	a.announceEnd(ctx, outcome, owner, listens)
	return nil
}

func (a *Actor) announceEnd(ctx context.Context, outcome settleOutcome, owner uuid.UUID, listens map[uuid.UUID]ListenType) {
	ann := a.deps.Announcer
	if outcome.Winner == uuid.Nil {
		msg := fmt.Sprintf("Auction #%d ended with no bids", a.id)
		ann.Announce(ctx, ListenDefault, listens, msg, owner)
		return
	}
	name := ann.PlayerName(ctx, outcome.Winner)
	msg := fmt.Sprintf("%s won auction #%d for %.2f", name, a.id, outcome.Price)
	ann.Announce(ctx, ListenDefault, listens, msg, owner, outcome.Winner)
	if outcome.Debt >= MinIncrement {
		ann.Tell(ctx, outcome.Winner, fmt.Sprintf("You owe %.2f for auction #%d, payable at pickup", outcome.Debt, a.id))
	}
}

// Cancel withdraws a lot that has no winner yet. The durable
// compare-and-set is the arbiter: losing the race to a concurrent bid
// or end means the cancel is refused.
func (a *Actor) Cancel(ctx context.Context, by uuid.UUID) error {
	a.mu.Lock()
	if !a.loaded || a.loading {
		a.mu.Unlock()
		return ErrNotCancellable
	}
	if a.row.HasWinner() || !a.row.State.IsCancellable() {
		a.mu.Unlock()
		return ErrNotCancellable
	}

	rows, err := a.deps.Auctions.CancelIfCancellable(ctx, a.id)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("failed to cancel auction %d: %w", a.id, err)
	}
	if rows == 0 {
		a.mu.Unlock()
		return ErrNotCancellable
	}

	a.row.State = models.AuctionStateCancelled
	a.row.Exclusive = false

	if err := a.deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.id, models.LogTypeCancel, by, 0)); err != nil {
		slog.Error("Failed to log auction cancel",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	if !a.row.IsHouseAuction() {
		delivery := models.NewDelivery(a.row, a.row.Owner, 0)
		if err := a.deps.Deliveries.Insert(ctx, delivery); err != nil {
			slog.Error("Failed to create return delivery",
				slog.Int64("auction_id", a.id),
				slog.String("error", err.Error()))
		}
	}
	a.mu.Unlock()

	if err := a.deps.Bus.Broadcast(ctx, Message{Kind: KindRemove, AuctionID: a.id}); err != nil {
		slog.Error("Failed to broadcast auction cancel",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	a.deps.Announcer.Tell(ctx, by, fmt.Sprintf("Auction #%d cancelled", a.id))
	slog.Info("Auction cancelled",
		slog.Int64("auction_id", a.id),
		slog.String("by", by.String()))
	return nil
}

// SetListen stores the player's notification preference for this lot.
func (a *Actor) SetListen(ctx context.Context, player uuid.UUID, listen ListenType) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.loaded || a.loading || !a.row.State.IsListenable() {
		return ErrNotListenable
	}

	playerRow, ok := a.players[player]
	if !ok {
		playerRow = models.NewPlayerAuction(a.id, player, string(listen))
		a.players[player] = playerRow
	}
	playerRow.ListenType = string(listen)
	if err := a.deps.Auctions.UpsertPlayer(ctx, playerRow); err != nil {
		return fmt.Errorf("failed to persist listen preference: %w", err)
	}
	return nil
}

// Tick runs one maintenance pass: end the lot when its deadline has
// passed, otherwise re-broadcast status once the quiet interval
// elapses.
func (a *Actor) Tick(ctx context.Context, now time.Time) {
	a.mu.Lock()
	if !a.loaded || a.loading || !a.row.State.IsActive() {
		a.mu.Unlock()
		return
	}
	if now.After(a.row.EndTime) {
		a.mu.Unlock()
		if err := a.End(ctx); err != nil && !errors.Is(err, ErrNotActive) {
			slog.Error("Failed to end expired auction",
				slog.Int64("auction_id", a.id),
				slog.String("error", err.Error()))
		}
		return
	}
	if now.Sub(a.row.AnnouncedTime) < reannounceInterval {
		a.mu.Unlock()
		return
	}

	a.row.AnnouncedTime = now
	if _, err := a.deps.Auctions.UpdateColumns(ctx, a.row, "announced_time"); err != nil {
		slog.Error("Failed to persist announced time",
			slog.Int64("auction_id", a.id),
			slog.String("error", err.Error()))
	}

	ann := a.deps.Announcer
	owner := ann.PlayerName(ctx, a.row.Owner)
	msg := fmt.Sprintf("Auction #%d by %s is at %.2f, %s remaining",
		a.id, owner, a.row.CurrentPrice, formatDuration(a.row.RemainingDuration()))
	listens := a.listensLocked()
	a.mu.Unlock()

	ann.Announce(ctx, ListenDefault, listens, msg)
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
