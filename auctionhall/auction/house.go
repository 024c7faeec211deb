package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
	"github.com/gildhall/auctionhall/auctionhall/roster"
)

const (
	// A fresh lot gets this long before the next one may start.
	startGracePeriod = 60 * time.Second
	// No new lot starts while any active lot is this close to ending.
	endingSoonWindow = 10 * time.Minute
)

var (
	ErrNotOwner        = errors.New("you do not own this auction")
	ErrAlreadyListed   = errors.New("you already have an auction listed")
	ErrCannotAffordFee = errors.New("you cannot afford the listing fee")
	ErrUnknownAuction  = errors.New("no such auction")
	ErrInvalidDuration = errors.New("unsupported auction duration")
)

// feeTiers maps the allowed lot durations to their listing fees.
var feeTiers = []struct {
	Duration time.Duration
	Fee      float64
}{
	{5 * time.Minute, 100},
	{10 * time.Minute, 200},
	{time.Hour, 300},
	{12 * time.Hour, 400},
	{24 * time.Hour, 500},
}

// FeeFor returns the listing fee for a duration, or ErrInvalidDuration
// when the duration is not one of the offered tiers.
func FeeFor(d time.Duration) (float64, error) {
	for _, tier := range feeTiers {
		if tier.Duration == d {
			return tier.Fee, nil
		}
	}
	return 0, ErrInvalidDuration
}

// Durations lists the offered lot durations in ascending order.
func Durations() []time.Duration {
	out := make([]time.Duration, len(feeTiers))
	for i, tier := range feeTiers {
		out[i] = tier.Duration
	}
	return out
}

// Options tunes the house's periodic work.
type Options struct {
	// Manager marks the single node that starts, ticks and ends lots.
	// Every other node is a replica that forwards bids.
	Manager bool

	TickInterval   time.Duration
	SweepInterval  time.Duration
	RemindInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.RemindInterval <= 0 {
		o.RemindInterval = time.Minute
	}
}

// House is the node-local face of the auction hall. Every node caches
// the active lots as actors and serves reads from that cache; only the
// manager node mutates lots, with replicas forwarding bids over the
// bus. Durable storage stays authoritative throughout.
type House struct {
	deps   *Deps
	roster roster.Roster
	opts   Options

	mu         sync.Mutex
	actors     map[int64]*Actor
	refreshing bool
	scheduling bool
	queueEmpty bool
}

func NewHouse(deps *Deps, r roster.Roster, opts Options) *House {
	opts.setDefaults()
	return &House{
		deps:   deps,
		roster: r,
		opts:   opts,
		actors: make(map[int64]*Actor),
	}
}

func (h *House) IsManager() bool { return h.opts.Manager }

func (h *House) actor(id int64) (*Actor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	a, ok := h.actors[id]
	return a, ok
}

func (h *House) actorList() []*Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Actor, 0, len(h.actors))
	for _, a := range h.actors {
		out = append(out, a)
	}
	return out
}

// SubmitBid places a bid on an active lot. On the manager the bid is
// applied directly; a replica forwards it to the manager's inbox and
// reports success, with the outcome arriving as an announcement. A
// zero auctionID means "the" auction: the soonest-ending active lot.
func (h *House) SubmitBid(ctx context.Context, auctionID int64, bidder uuid.UUID, amount float64) error {
	if auctionID == 0 {
		active := h.QueryActiveAuctions()
		if len(active) == 0 {
			return ErrNotActive
		}
		auctionID = active[0].ID
	}
	if !h.opts.Manager {
		if err := h.deps.Bus.ForwardBid(ctx, BidRequest{AuctionID: auctionID, Bidder: bidder, Amount: amount}); err != nil {
			return fmt.Errorf("failed to forward bid: %w", err)
		}
		return nil
	}

	actor, ok := h.actor(auctionID)
	if !ok || !actor.IsReady() {
		return ErrNotActive
	}
	return actor.Bid(ctx, bidder, amount)
}

// CreateScheduledAuction lists a new lot. Player lots are exclusive
// and charge the tier fee up front unless the caller already charged
// it; house lots skip both. The lot enters the queue in scheduled
// state and waits for admission.
func (h *House) CreateScheduledAuction(ctx context.Context, owner uuid.UUID, startingPrice float64, inventory string, duration time.Duration, feeCharged bool) (int64, error) {
	fee, err := FeeFor(duration)
	if err != nil {
		return 0, err
	}
	if startingPrice < MinIncrement {
		return 0, &BidTooLowError{Price: MinIncrement}
	}

	house := owner == models.HouseID
	if !house {
		count, err := h.deps.Auctions.ExclusiveCount(ctx, owner)
		if err != nil {
			return 0, fmt.Errorf("failed to check existing listings: %w", err)
		}
		if count > 0 {
			return 0, ErrAlreadyListed
		}
		if !feeCharged {
			paid, err := h.deps.Ledger.Take(ctx, owner, fee)
			if err != nil {
				return 0, fmt.Errorf("failed to charge listing fee: %w", err)
			}
			if !paid {
				return 0, ErrCannotAffordFee
			}
		}
	}

	a := models.NewAuction(owner, startingPrice, inventory, duration)
	a.Exclusive = !house
	if !house {
		a.AuctionFee = fee
	}
	if err := h.deps.Auctions.Insert(ctx, a); err != nil {
		if !house && !feeCharged {
			if giveErr := h.deps.Ledger.Give(ctx, owner, fee); giveErr != nil {
				slog.Error("Failed to refund listing fee",
					slog.String("owner", owner.String()),
					slog.Float64("fee", fee),
					slog.String("error", giveErr.Error()))
			}
		}
		return 0, fmt.Errorf("failed to create auction: %w", err)
	}

	if err := h.deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.ID, models.LogTypeCreate, owner, startingPrice)); err != nil {
		slog.Error("Failed to log auction creation",
			slog.Int64("auction_id", a.ID),
			slog.String("error", err.Error()))
	}

	h.mu.Lock()
	h.queueEmpty = false
	h.mu.Unlock()
	if err := h.deps.Bus.Broadcast(ctx, Message{Kind: KindScheduled}); err != nil {
		slog.Error("Failed to broadcast scheduled auction",
			slog.Int64("auction_id", a.ID),
			slog.String("error", err.Error()))
	}

	slog.Info("Auction created",
		slog.Int64("auction_id", a.ID),
		slog.String("owner", owner.String()),
		slog.Float64("starting_price", startingPrice),
		slog.Duration("duration", duration))
	return a.ID, nil
}

// CancelAuction withdraws a lot on behalf of its owner.
func (h *House) CancelAuction(ctx context.Context, auctionID int64, by uuid.UUID) error {
	return h.cancel(ctx, auctionID, by, false)
}

// AdminCancel withdraws any winnerless lot regardless of ownership.
func (h *House) AdminCancel(ctx context.Context, auctionID int64, by uuid.UUID) error {
	return h.cancel(ctx, auctionID, by, true)
}

func (h *House) cancel(ctx context.Context, auctionID int64, by uuid.UUID, admin bool) error {
	if actor, ok := h.actor(auctionID); ok && actor.IsReady() {
		if snap, ok := actor.Snapshot(); ok && !admin && !snap.IsOwner(by) {
			return ErrNotOwner
		}
		return actor.Cancel(ctx, by)
	}

	// Scheduled lots have no actor; cancel straight against storage.
	row, err := h.deps.Auctions.Find(ctx, auctionID)
	if err != nil {
		return ErrUnknownAuction
	}
	if !admin && !row.IsOwner(by) {
		return ErrNotOwner
	}
	if row.HasWinner() || !row.State.IsCancellable() {
		return ErrNotCancellable
	}

	rows, err := h.deps.Auctions.CancelIfCancellable(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("failed to cancel auction %d: %w", auctionID, err)
	}
	if rows == 0 {
		return ErrNotCancellable
	}

	if err := h.deps.Auctions.InsertLog(ctx, models.NewAuctionLog(auctionID, models.LogTypeCancel, by, 0)); err != nil {
		slog.Error("Failed to log auction cancel",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()))
	}
	if !row.IsHouseAuction() {
		if err := h.deps.Deliveries.Insert(ctx, models.NewDelivery(row, row.Owner, 0)); err != nil {
			slog.Error("Failed to create return delivery",
				slog.Int64("auction_id", auctionID),
				slog.String("error", err.Error()))
		}
	}
	if err := h.deps.Bus.Broadcast(ctx, Message{Kind: KindRemove, AuctionID: auctionID}); err != nil {
		slog.Error("Failed to broadcast auction cancel",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()))
	}
	h.deps.Announcer.Tell(ctx, by, fmt.Sprintf("Auction #%d cancelled", auctionID))
	return nil
}

// SetListenPreference stores a player's notification preference. The
// durable write happens here and a refresh broadcast brings every
// node's cache up to date.
func (h *House) SetListenPreference(ctx context.Context, auctionID int64, player uuid.UUID, listen ListenType) error {
	if actor, ok := h.actor(auctionID); ok && actor.IsReady() {
		if err := actor.SetListen(ctx, player, listen); err != nil {
			return err
		}
	} else {
		row, err := h.deps.Auctions.Find(ctx, auctionID)
		if err != nil {
			return ErrUnknownAuction
		}
		if !row.State.IsListenable() {
			return ErrNotListenable
		}
		playerRow := models.NewPlayerAuction(auctionID, player, string(listen))
		for _, existing := range h.mustPlayersFor(ctx, auctionID) {
			if existing.Player == player {
				playerRow = existing
				playerRow.ListenType = string(listen)
				break
			}
		}
		if err := h.deps.Auctions.UpsertPlayer(ctx, playerRow); err != nil {
			return fmt.Errorf("failed to persist listen preference: %w", err)
		}
	}

	if err := h.deps.Bus.Broadcast(ctx, Message{Kind: KindRefresh, AuctionID: auctionID}); err != nil {
		slog.Error("Failed to broadcast listen change",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()))
	}
	return nil
}

func (h *House) mustPlayersFor(ctx context.Context, auctionID int64) []*models.PlayerAuction {
	rows, err := h.deps.Auctions.PlayersFor(ctx, auctionID)
	if err != nil {
		slog.Error("Failed to load player rows",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()))
		return nil
	}
	return rows
}

// QueryActiveAuctions returns snapshots of every cached active lot,
// soonest-ending first.
func (h *House) QueryActiveAuctions() []models.Auction {
	var out []models.Auction
	for _, actor := range h.actorList() {
		if !actor.IsActive() {
			continue
		}
		if snap, ok := actor.Snapshot(); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return out
}

// QueryAuctionsFor returns the cached lots the player is involved in,
// as seller, winner or bidder. Ignored lots are filtered out entirely;
// focused lots sort first and ties break on the soonest end.
func (h *House) QueryAuctionsFor(player uuid.UUID) []models.Auction {
	type entry struct {
		snap     models.Auction
		priority int
	}
	var entries []entry
	for _, actor := range h.actorList() {
		snap, ok := actor.Snapshot()
		if !ok {
			continue
		}
		listen := actor.ListenFor(player)
		if listen.IsIgnore() {
			continue
		}
		if snap.IsOwner(player) || snap.IsWinner(player) || actor.HasPlayer(player) {
			entries = append(entries, entry{snap: snap, priority: listen.Priority()})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].snap.EndTime.Before(entries[j].snap.EndTime)
	})
	out := make([]models.Auction, len(entries))
	for i, e := range entries {
		out[i] = e.snap
	}
	return out
}

// FocusAuctionsFor returns the cached lots the player is focused on.
func (h *House) FocusAuctionsFor(player uuid.UUID) []models.Auction {
	var out []models.Auction
	for _, actor := range h.actorList() {
		if !actor.ListenFor(player).IsFocus() {
			continue
		}
		if snap, ok := actor.Snapshot(); ok {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EndTime.Before(out[j].EndTime)
	})
	return out
}

// CollectDelivery hands the player their oldest pending delivery.
func (h *House) CollectDelivery(ctx context.Context, player uuid.UUID) (*models.Delivery, error) {
	return Collect(ctx, h.deps, player)
}

// ManagerTick is the once-a-second heartbeat of the manager node. It
// prunes ended actors, ticks the live ones and admits the next queued
// lot when the floor is clear.
func (h *House) ManagerTick(ctx context.Context) {
	if !h.opts.Manager {
		return
	}
	h.mu.Lock()
	if h.refreshing {
		h.mu.Unlock()
		return
	}
	for id, actor := range h.actors {
		if actor.HasEnded() {
			delete(h.actors, id)
		}
	}
	queueEmpty := h.queueEmpty
	h.mu.Unlock()

	now := time.Now()
	anyLoading := false
	blocked := false
	for _, actor := range h.actorList() {
		if !actor.IsReady() {
			anyLoading = true
			continue
		}
		actor.Tick(ctx, now)
		if actor.RemainingUnder(endingSoonWindow) || actor.StartedWithin(startGracePeriod) {
			blocked = true
		}
	}

	if anyLoading || blocked || queueEmpty {
		return
	}
	h.schedule(ctx)
}

// schedule promotes the oldest scheduled lot. queueEmpty flips to true
// speculatively so an empty queue is not re-queried every tick; the
// flag clears as soon as the query proves more work remains or a new
// listing broadcast arrives.
func (h *House) schedule(ctx context.Context) {
	h.mu.Lock()
	if h.scheduling {
		h.mu.Unlock()
		return
	}
	h.scheduling = true
	h.queueEmpty = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.scheduling = false
		h.mu.Unlock()
	}()

	queued, err := h.deps.Auctions.Scheduled(ctx)
	if err != nil {
		slog.Error("Failed to query scheduled auctions",
			slog.String("error", err.Error()))
		h.mu.Lock()
		h.queueEmpty = false
		h.mu.Unlock()
		return
	}
	if len(queued) == 0 {
		return
	}
	if len(queued) > 1 {
		h.mu.Lock()
		h.queueEmpty = false
		h.mu.Unlock()
	}

	next := queued[0]
	actor := NewActor(h.deps, next.ID)
	if err := actor.Load(ctx); err != nil {
		slog.Error("Failed to load scheduled auction",
			slog.Int64("auction_id", next.ID),
			slog.String("error", err.Error()))
		return
	}
	if err := actor.Start(ctx); err != nil {
		slog.Error("Failed to start scheduled auction",
			slog.Int64("auction_id", next.ID),
			slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.actors[next.ID] = actor
	h.mu.Unlock()
}

// Sweep reconciles the actor cache against durable storage: actors for
// every active row, nothing else. Bids keep flowing through existing
// actors while the sweep runs; only the manager tick pauses.
func (h *House) Sweep(ctx context.Context) {
	h.mu.Lock()
	if h.refreshing {
		h.mu.Unlock()
		return
	}
	h.refreshing = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.refreshing = false
		h.mu.Unlock()
	}()

	ids, err := h.deps.Auctions.ActiveIDs(ctx)
	if err != nil {
		slog.Error("Failed to sweep active auctions",
			slog.String("error", err.Error()))
		return
	}
	active := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		active[id] = struct{}{}
	}

	h.mu.Lock()
	for id := range h.actors {
		if _, ok := active[id]; !ok {
			delete(h.actors, id)
		}
	}
	var toLoad []*Actor
	for _, id := range ids {
		if _, ok := h.actors[id]; !ok {
			actor := NewActor(h.deps, id)
			h.actors[id] = actor
			toLoad = append(toLoad, actor)
		}
	}
	h.mu.Unlock()

	for _, actor := range toLoad {
		if err := actor.Load(ctx); err != nil {
			slog.Error("Failed to load active auction",
				slog.Int64("auction_id", actor.ID()),
				slog.String("error", err.Error()))
		}
	}
}

// RemindDeliveries tells every connected player with a pending
// delivery to come collect it.
func (h *House) RemindDeliveries(ctx context.Context) {
	owners, err := h.deps.Deliveries.Owners(ctx)
	if err != nil {
		slog.Error("Failed to query delivery owners",
			slog.String("error", err.Error()))
		return
	}
	if len(owners) == 0 {
		return
	}
	pending := make(map[uuid.UUID]struct{}, len(owners))
	for _, o := range owners {
		pending[o] = struct{}{}
	}

	connected, err := h.roster.Connected(ctx)
	if err != nil {
		slog.Error("Failed to list connected players",
			slog.String("error", err.Error()))
		return
	}
	for _, p := range connected {
		if _, ok := pending[p.ID]; ok {
			h.deps.Announcer.Tell(ctx, p.ID, "You have an auction delivery waiting, collect it when ready")
		}
	}
}

// DeleteAuction is the administrative purge of a lot and its history.
func (h *House) DeleteAuction(ctx context.Context, auctionID int64) error {
	if err := h.deps.Auctions.Delete(ctx, auctionID); err != nil {
		return err
	}
	h.mu.Lock()
	delete(h.actors, auctionID)
	h.mu.Unlock()
	if err := h.deps.Bus.Broadcast(ctx, Message{Kind: KindRemove, AuctionID: auctionID}); err != nil {
		slog.Error("Failed to broadcast auction purge",
			slog.Int64("auction_id", auctionID),
			slog.String("error", err.Error()))
	}
	return nil
}

// HandleMessage applies one bus message to the local cache.
func (h *House) HandleMessage(ctx context.Context, msg Message) {
	switch msg.Kind {
	case KindRefresh:
		h.mu.Lock()
		actor, ok := h.actors[msg.AuctionID]
		if !ok {
			actor = NewActor(h.deps, msg.AuctionID)
			h.actors[msg.AuctionID] = actor
		}
		h.mu.Unlock()
		if err := actor.Load(ctx); err != nil {
			slog.Error("Failed to refresh auction from broadcast",
				slog.Int64("auction_id", msg.AuctionID),
				slog.String("error", err.Error()))
		}
	case KindRemove:
		h.mu.Lock()
		delete(h.actors, msg.AuctionID)
		h.mu.Unlock()
	case KindScheduled:
		h.mu.Lock()
		h.queueEmpty = false
		h.mu.Unlock()
	case KindDelivered:
		// Collection already mutated durable state; nothing cached here.
	default:
		slog.Warn("Ignoring unknown bus message",
			slog.String("kind", string(msg.Kind)))
	}
}

// HandleBid applies a bid forwarded from a replica. Manager only.
func (h *House) HandleBid(ctx context.Context, req BidRequest) {
	if !h.opts.Manager {
		return
	}
	if err := h.SubmitBid(ctx, req.AuctionID, req.Bidder, req.Amount); err != nil {
		h.deps.Announcer.Tell(ctx, req.Bidder, fmt.Sprintf("Bid on auction #%d rejected: %v", req.AuctionID, err))
	}
}

// Run drives the house until ctx is cancelled: the bus subscription,
// the manager heartbeat, the cache sweep and delivery reminders.
func (h *House) Run(ctx context.Context) error {
	h.Sweep(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var bids func(BidRequest)
		if h.opts.Manager {
			bids = func(req BidRequest) { h.HandleBid(ctx, req) }
		}
		return h.deps.Bus.Subscribe(ctx, func(msg Message) { h.HandleMessage(ctx, msg) }, bids)
	})

	if h.opts.Manager {
		g.Go(func() error {
			ticker := time.NewTicker(h.opts.TickInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					h.ManagerTick(ctx)
				}
			}
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(h.opts.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				h.Sweep(ctx)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(h.opts.RemindInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				h.RemindDeliveries(ctx)
			}
		}
	})

	return g.Wait()
}
