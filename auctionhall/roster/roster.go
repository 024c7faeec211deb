package roster

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

const (
	presenceKey   = "auction:presence"
	nameCacheSize = 4096
)

// Player is one connected identity and the node it is attached to.
type Player struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Origin string    `json:"origin"`
}

// Roster resolves identities to display names and lists currently
// connected players cluster-wide.
type Roster interface {
	Name(ctx context.Context, player uuid.UUID) string
	Connected(ctx context.Context) ([]Player, error)
	Track(ctx context.Context, player Player) error
	Untrack(ctx context.Context, player uuid.UUID) error
}

type clusterRoster struct {
	db    *bun.DB
	rdb   *redis.Client
	names *lru.Cache
	node  string
}

func New(db *bun.DB, rdb *redis.Client, node string) (Roster, error) {
	cache, err := lru.New(nameCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create name cache: %w", err)
	}
	return &clusterRoster{db: db, rdb: rdb, names: cache, node: node}, nil
}

func (r *clusterRoster) Name(ctx context.Context, player uuid.UUID) string {
	if player == models.HouseID {
		return "The Server"
	}
	if cached, ok := r.names.Get(player); ok {
		return cached.(string)
	}
	row := new(models.PlayerName)
	err := r.db.NewSelect().
		Model(row).
		Where("player = ?", player).
		Scan(ctx)

	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Error("Failed to resolve player name",
				slog.String("player", player.String()),
				slog.String("error", err.Error()))
		}
		return player.String()
	}
	r.names.Add(player, row.Name)
	return row.Name
}

// Connected reads the shared presence hash. Each node tracks its own
// sessions; the hash is the cluster-wide union.
func (r *clusterRoster) Connected(ctx context.Context) ([]Player, error) {
	entries, err := r.rdb.HGetAll(ctx, presenceKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	players := make([]Player, 0, len(entries))
	for field, raw := range entries {
		var p Player
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			slog.Error("Dropping malformed presence entry",
				slog.String("field", field),
				slog.String("error", err.Error()))
			continue
		}
		players = append(players, p)
	}
	return players, nil
}

func (r *clusterRoster) Track(ctx context.Context, player Player) error {
	if player.Origin == "" {
		player.Origin = r.node
	}
	raw, err := json.Marshal(player)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	if err := r.rdb.HSet(ctx, presenceKey, player.ID.String(), raw).Err(); err != nil {
		return fmt.Errorf("failed to track player: %w", err)
	}
	return nil
}

func (r *clusterRoster) Untrack(ctx context.Context, player uuid.UUID) error {
	if err := r.rdb.HDel(ctx, presenceKey, player.String()).Err(); err != nil {
		return fmt.Errorf("failed to untrack player: %w", err)
	}
	return nil
}

// Static is a fixed roster for tests.
type Static struct {
	Players []Player
}

func (s *Static) Name(_ context.Context, player uuid.UUID) string {
	for _, p := range s.Players {
		if p.ID == player {
			return p.Name
		}
	}
	return player.String()
}

func (s *Static) Connected(_ context.Context) ([]Player, error) {
	return s.Players, nil
}

func (s *Static) Track(_ context.Context, player Player) error {
	s.Players = append(s.Players, player)
	return nil
}

func (s *Static) Untrack(_ context.Context, player uuid.UUID) error {
	for i, p := range s.Players {
		if p.ID == player {
			s.Players = append(s.Players[:i], s.Players[i+1:]...)
			return nil
		}
	}
	return nil
}
