package auction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/gildhall/auctionhall/auctionhall/roster"
)

// Notifier delivers a rendered message to a set of local or remote
// players. Delivery is fire-and-forget; a lost notification never
// affects auction state.
type Notifier interface {
	Notify(ctx context.Context, players []uuid.UUID, message string)
}

// LogNotifier writes every notification to the structured log. It is
// the default sink until a game-facing transport is attached.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, players []uuid.UUID, message string) {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.String()
	}
	slog.Info("Auction notification",
		slog.String("players", strings.Join(ids, ",")),
		slog.String("message", message))
}

// Announcer resolves who should hear an auction announcement. Explicit
// targets always receive it; broadcast recipients are the connected
// players whose listen preference entails the announcement level.
type Announcer struct {
	roster   roster.Roster
	notifier Notifier
}

func NewAnnouncer(r roster.Roster, n Notifier) *Announcer {
	return &Announcer{roster: r, notifier: n}
}

// Announce sends message to every connected player whose preference in
// listens entails level, plus the explicit targets regardless of their
// preference. Players missing from listens count as DEFAULT.
func (a *Announcer) Announce(ctx context.Context, level ListenType, listens map[uuid.UUID]ListenType, message string, targets ...uuid.UUID) {
	recipients := make(map[uuid.UUID]struct{})
	for _, t := range targets {
		if t != uuid.Nil {
			recipients[t] = struct{}{}
		}
	}

	connected, err := a.roster.Connected(ctx)
	if err != nil {
		slog.Error("Failed to list connected players for announcement",
			slog.String("error", err.Error()))
	}
	for _, p := range connected {
		if listens[p.ID].Entails(level) {
			recipients[p.ID] = struct{}{}
		}
	}

	if len(recipients) == 0 {
		return
	}
	players := make([]uuid.UUID, 0, len(recipients))
	for p := range recipients {
		players = append(players, p)
	}
	a.notifier.Notify(ctx, players, message)
}

// Tell sends a message to one player unconditionally.
func (a *Announcer) Tell(ctx context.Context, player uuid.UUID, message string) {
	a.notifier.Notify(ctx, []uuid.UUID{player}, message)
}

// PlayerName resolves a display name for message rendering.
func (a *Announcer) PlayerName(ctx context.Context, player uuid.UUID) string {
	return a.roster.Name(ctx, player)
}

// RecordingNotifier captures notifications in memory. Test use only.
type RecordingNotifier struct {
	Sent []RecordedNotification
}

type RecordedNotification struct {
	Players []uuid.UUID
	Message string
}

func (n *RecordingNotifier) Notify(_ context.Context, players []uuid.UUID, message string) {
	n.Sent = append(n.Sent, RecordedNotification{Players: players, Message: message})
}
