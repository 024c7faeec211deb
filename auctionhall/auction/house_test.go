package auction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

func newManagerHouse(env *testEnv) *House {
	return NewHouse(env.deps, env.roster, Options{Manager: true})
}

func TestFeeFor(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     float64
		wantErr  bool
	}{
		{5 * time.Minute, 100, false},
		{10 * time.Minute, 200, false},
		{time.Hour, 300, false},
		{12 * time.Hour, 400, false},
		{24 * time.Hour, 500, false},
		{7 * time.Minute, 0, true},
		{48 * time.Hour, 0, true},
	}

	for _, tt := range tests {
		got, err := FeeFor(tt.duration)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidDuration) {
				t.Fatalf("FeeFor(%v) error = %v, want ErrInvalidDuration", tt.duration, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("FeeFor(%v) = %v, %v, want %v", tt.duration, got, err, tt.want)
		}
	}
}

func TestCreateScheduledAuction(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")
	env.fund(owner, 1000)

	id, err := h.CreateScheduledAuction(ctx, owner, 50, "payload", time.Hour, false)
	if err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}

	stored := env.auctions.stored(id)
	if !stored.State.IsScheduled() || !stored.Exclusive || stored.AuctionFee != 300 {
		t.Fatalf("created lot = %+v", stored)
	}
	if got := env.ledger.Balance(owner); got != 700 {
		t.Fatalf("balance after fee = %v, want 700", got)
	}

	// One exclusive listing per seller.
	if _, err := h.CreateScheduledAuction(ctx, owner, 50, "more", time.Hour, false); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("second listing error = %v, want ErrAlreadyListed", err)
	}

	// Unknown tier is refused before any money moves.
	if _, err := h.CreateScheduledAuction(ctx, owner, 50, "x", 7*time.Minute, false); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("bad duration error = %v, want ErrInvalidDuration", err)
	}

	broke := env.connect("broke")
	if _, err := h.CreateScheduledAuction(ctx, broke, 50, "x", time.Hour, false); !errors.Is(err, ErrCannotAffordFee) {
		t.Fatalf("broke listing error = %v, want ErrCannotAffordFee", err)
	}
}

func TestCreateHouseAuctionSkipsFeeAndExclusivity(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)

	for i := 0; i < 2; i++ {
		id, err := h.CreateScheduledAuction(ctx, models.HouseID, 50, "prize", time.Hour, false)
		if err != nil {
			t.Fatalf("house listing %d: %v", i, err)
		}
		stored := env.auctions.stored(id)
		if stored.Exclusive || stored.AuctionFee != 0 {
			t.Fatalf("house lot = %+v", stored)
		}
	}
}

func TestManagerTickAdmitsOneLotAtATime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")
	env.fund(owner, 1000)

	first, err := h.CreateScheduledAuction(ctx, owner, 50, "a", time.Hour, false)
	if err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}
	time.Sleep(2 * time.Millisecond) // creation order decides admission order
	second, err := h.CreateScheduledAuction(ctx, models.HouseID, 50, "b", time.Hour, false)
	if err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}

	h.ManagerTick(ctx)
	if !env.auctions.stored(first).State.IsActive() {
		t.Fatalf("oldest lot was not admitted")
	}
	if !env.auctions.stored(second).State.IsScheduled() {
		t.Fatalf("second lot admitted alongside the first")
	}

	// The fresh start blocks further admissions for the grace period.
	h.ManagerTick(ctx)
	if !env.auctions.stored(second).State.IsScheduled() {
		t.Fatalf("second lot admitted during the grace period")
	}
}

func TestScheduleQueueEmptySpeculation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)

	// Empty queue: the flag stays set and later ticks skip the query.
	h.schedule(ctx)
	h.mu.Lock()
	if !h.queueEmpty {
		h.mu.Unlock()
		t.Fatalf("queueEmpty not set after scheduling an empty queue")
	}
	h.mu.Unlock()

	// A new listing broadcast clears it again.
	h.HandleMessage(ctx, Message{Kind: KindScheduled})
	h.mu.Lock()
	if h.queueEmpty {
		h.mu.Unlock()
		t.Fatalf("queueEmpty still set after scheduled broadcast")
	}
	h.mu.Unlock()

	// Two queued lots: admitting one leaves the flag cleared.
	if _, err := h.CreateScheduledAuction(ctx, models.HouseID, 50, "a", time.Hour, false); err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}
	if _, err := h.CreateScheduledAuction(ctx, models.HouseID, 50, "b", time.Hour, false); err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}
	h.schedule(ctx)
	h.mu.Lock()
	if h.queueEmpty {
		h.mu.Unlock()
		t.Fatalf("queueEmpty set while a lot is still queued")
	}
	h.mu.Unlock()
}

func TestSubmitBidOnReplicaForwards(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	manager := newManagerHouse(env)
	replica := NewHouse(env.deps, env.roster, Options{Manager: false})

	owner := env.connect("seller")
	a := env.connect("alice")
	env.fund(a, 1000)
	actor, id := env.activeAuction(owner, 100, time.Hour)
	manager.mu.Lock()
	manager.actors[id] = actor
	manager.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		_ = env.bus.Subscribe(subCtx,
			func(m Message) { manager.HandleMessage(subCtx, m) },
			func(r BidRequest) { manager.HandleBid(subCtx, r) })
	}()
	waitForSubs(t, env.bus, 1)

	if err := replica.SubmitBid(ctx, id, a, 100); err != nil {
		t.Fatalf("SubmitBid() = %v", err)
	}
	stored := env.auctions.stored(id)
	if stored.Winner != a || stored.HighestBid != 100 {
		t.Fatalf("forwarded bid not applied: %+v", stored)
	}
}

func TestSubmitBidUnknownLot(t *testing.T) {
	env := newTestEnv()
	h := newManagerHouse(env)
	if err := h.SubmitBid(context.Background(), 99, env.connect("alice"), 100); !errors.Is(err, ErrNotActive) {
		t.Fatalf("SubmitBid() = %v, want ErrNotActive", err)
	}
}

func TestCancelOwnershipRules(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")
	stranger := env.connect("stranger")
	env.fund(owner, 1000)

	id, err := h.CreateScheduledAuction(ctx, owner, 50, "payload", time.Hour, false)
	if err != nil {
		t.Fatalf("CreateScheduledAuction() = %v", err)
	}

	if err := h.CancelAuction(ctx, id, stranger); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("stranger cancel = %v, want ErrNotOwner", err)
	}
	if err := h.AdminCancel(ctx, id, stranger); err != nil {
		t.Fatalf("AdminCancel() = %v", err)
	}
	stored := env.auctions.stored(id)
	if !stored.State.IsCancelled() {
		t.Fatalf("after admin cancel: %+v", stored)
	}
	// The payload returns to the seller, not the admin.
	deliveries := env.deliveries.all()
	if len(deliveries) != 1 || deliveries[0].Owner != owner {
		t.Fatalf("return delivery = %+v", deliveries)
	}
}

func TestSweepReconcilesCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")

	_, id := env.activeAuction(owner, 100, time.Hour)
	h.Sweep(ctx)
	if _, ok := h.actor(id); !ok {
		t.Fatalf("sweep did not cache the active lot")
	}

	// The row ends behind the cache's back; the next sweep drops it.
	row := env.auctions.stored(id)
	row.State = models.AuctionStateEnded
	if _, err := env.auctions.UpdateColumns(ctx, &row, "state"); err != nil {
		t.Fatalf("UpdateColumns() = %v", err)
	}
	h.Sweep(ctx)
	if _, ok := h.actor(id); ok {
		t.Fatalf("sweep kept an ended lot cached")
	}
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")
	a := env.connect("alice")
	b := env.connect("bob")
	env.fund(a, 1000)

	actor1, id1 := env.activeAuction(owner, 100, time.Hour)
	actor2, id2 := env.activeAuction(models.HouseID, 100, 30*time.Minute)
	h.mu.Lock()
	h.actors[id1] = actor1
	h.actors[id2] = actor2
	h.mu.Unlock()

	if err := actor1.Bid(ctx, a, 100); err != nil {
		t.Fatalf("Bid() = %v", err)
	}
	if err := actor2.SetListen(ctx, b, ListenFocus); err != nil {
		t.Fatalf("SetListen() = %v", err)
	}

	active := h.QueryActiveAuctions()
	if len(active) != 2 || active[0].ID != id2 {
		t.Fatalf("active auctions = %+v, want soonest-ending first", active)
	}

	mine := h.QueryAuctionsFor(a)
	if len(mine) != 1 || mine[0].ID != id1 {
		t.Fatalf("auctions for bidder = %+v", mine)
	}
	sellers := h.QueryAuctionsFor(owner)
	if len(sellers) != 1 || sellers[0].ID != id1 {
		t.Fatalf("auctions for seller = %+v", sellers)
	}

	// Focus outranks the soonest-end ordering.
	if err := actor2.SetListen(ctx, a, ListenDefault); err != nil {
		t.Fatalf("SetListen() = %v", err)
	}
	mine = h.QueryAuctionsFor(a)
	if len(mine) != 2 || mine[0].ID != id2 {
		t.Fatalf("auctions for bidder = %+v, want soonest-ending first", mine)
	}
	if err := actor1.SetListen(ctx, a, ListenFocus); err != nil {
		t.Fatalf("SetListen() = %v", err)
	}
	mine = h.QueryAuctionsFor(a)
	if len(mine) != 2 || mine[0].ID != id1 {
		t.Fatalf("auctions for bidder = %+v, want focused lot first", mine)
	}

	// An ignored lot drops out of the involvement list entirely.
	if err := actor1.SetListen(ctx, a, ListenIgnore); err != nil {
		t.Fatalf("SetListen() = %v", err)
	}
	mine = h.QueryAuctionsFor(a)
	if len(mine) != 1 || mine[0].ID != id2 {
		t.Fatalf("ignored lot still returned: %+v", mine)
	}

	focused := h.FocusAuctionsFor(b)
	if len(focused) != 1 || focused[0].ID != id2 {
		t.Fatalf("focused auctions = %+v", focused)
	}
}

func TestRemindDeliveries(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	h := newManagerHouse(env)
	owner := env.connect("seller")

	actor, _ := env.activeAuction(owner, 100, time.Hour)
	if err := actor.Cancel(ctx, owner); err != nil {
		t.Fatalf("Cancel() = %v", err)
	}

	before := len(env.notifier.Sent)
	h.RemindDeliveries(ctx)
	if len(env.notifier.Sent) != before+1 {
		t.Fatalf("no reminder sent to connected owner")
	}
	got := env.notifier.Sent[len(env.notifier.Sent)-1]
	if len(got.Players) != 1 || got.Players[0] != owner {
		t.Fatalf("reminder recipients = %+v", got.Players)
	}
}
