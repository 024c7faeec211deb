package auction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Message kinds broadcast to every node. Delivery is best-effort:
// consumers treat each message as a hint to re-read durable storage,
// never as the truth itself.
type MessageKind string

const (
	KindRefresh   MessageKind = "refresh"
	KindRemove    MessageKind = "remove"
	KindScheduled MessageKind = "scheduled"
	KindDelivered MessageKind = "delivered"
)

type Message struct {
	Kind      MessageKind `json:"kind"`
	AuctionID int64       `json:"auction_id,omitempty"`
}

// BidRequest is forwarded from a replica node to the manager's inbox.
type BidRequest struct {
	AuctionID int64     `json:"auction_id"`
	Bidder    uuid.UUID `json:"bidder"`
	Amount    float64   `json:"amount"`
}

// Bus is the cross-node synchronization channel: fire-and-forget
// broadcast of cache hints plus a manager-only bid inbox.
type Bus interface {
	Broadcast(ctx context.Context, msg Message) error
	ForwardBid(ctx context.Context, req BidRequest) error
	// Subscribe blocks until ctx is done, invoking the handlers for
	// each received message. bids may be nil on replica nodes.
	Subscribe(ctx context.Context, sync func(Message), bids func(BidRequest)) error
}

const (
	syncChannel = "auction:sync"
	bidChannel  = "auction:bids"
)

type redisBus struct {
	rdb *redis.Client
}

func NewRedisBus(rdb *redis.Client) Bus {
	return &redisBus{rdb: rdb}
}

func (b *redisBus) Broadcast(ctx context.Context, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode sync message: %w", err)
	}
	if err := b.rdb.Publish(ctx, syncChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to publish sync message: %w", err)
	}
	return nil
}

func (b *redisBus) ForwardBid(ctx context.Context, req BidRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode bid request: %w", err)
	}
	if err := b.rdb.Publish(ctx, bidChannel, raw).Err(); err != nil {
		return fmt.Errorf("failed to forward bid: %w", err)
	}
	return nil
}

func (b *redisBus) Subscribe(ctx context.Context, sync func(Message), bids func(BidRequest)) error {
	channels := []string{syncChannel}
	if bids != nil {
		channels = append(channels, bidChannel)
	}
	sub := b.rdb.Subscribe(ctx, channels...)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			switch m.Channel {
			case syncChannel:
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					slog.Error("Dropping malformed sync message",
						slog.String("payload", m.Payload),
						slog.String("error", err.Error()))
					continue
				}
				sync(msg)
			case bidChannel:
				var req BidRequest
				if err := json.Unmarshal([]byte(m.Payload), &req); err != nil {
					slog.Error("Dropping malformed bid request",
						slog.String("payload", m.Payload),
						slog.String("error", err.Error()))
					continue
				}
				bids(req)
			}
		}
	}
}

// MemoryBus fans messages out to every subscriber in-process. Test
// use only.
type MemoryBus struct {
	mu   sync.Mutex
	subs []memorySub
}

type memorySub struct {
	sync func(Message)
	bids func(BidRequest)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) Broadcast(_ context.Context, msg Message) error {
	b.mu.Lock()
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		s.sync(msg)
	}
	return nil
}

func (b *MemoryBus) ForwardBid(_ context.Context, req BidRequest) error {
	b.mu.Lock()
	subs := make([]memorySub, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()
	for _, s := range subs {
		if s.bids != nil {
			s.bids(req)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, sync func(Message), bids func(BidRequest)) error {
	b.mu.Lock()
	b.subs = append(b.subs, memorySub{sync: sync, bids: bids})
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}
