package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

var (
	ErrNoDelivery      = errors.New("no delivery waiting")
	ErrDebtUnpaid      = errors.New("delivery debt cannot be paid")
	ErrDeliveryClaimed = errors.New("delivery already collected")
)

type settleOutcome struct {
	Winner uuid.UUID
	Price  float64
	Debt   float64
}

// settle moves money and creates the delivery for an ending lot. It
// never flips the auction state; the caller persists the state change
// afterwards. A winner who cannot pay still receives the lot, with the
// price carried as debt on the delivery.
func settle(ctx context.Context, deps *Deps, a *models.Auction) (settleOutcome, error) {
	if !a.HasWinner() {
		if err := deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.ID, models.LogTypeFail, a.Owner, 0)); err != nil {
			slog.Error("Failed to log unsold auction",
				slog.Int64("auction_id", a.ID),
				slog.String("error", err.Error()))
		}
		if !a.IsHouseAuction() {
			if err := deps.Deliveries.Insert(ctx, models.NewDelivery(a, a.Owner, 0)); err != nil {
				return settleOutcome{}, fmt.Errorf("failed to create return delivery: %w", err)
			}
		}
		return settleOutcome{}, nil
	}

	price := a.CurrentPrice
	paid, err := deps.Ledger.Take(ctx, a.Winner, price)
	if err != nil {
		return settleOutcome{}, fmt.Errorf("failed to charge winner: %w", err)
	}

	debt := 0.0
	logType := models.LogTypeWin
	if paid {
		if !a.IsHouseAuction() {
			if err := deps.Ledger.Give(ctx, a.Owner, price); err != nil {
				return settleOutcome{}, fmt.Errorf("failed to pay seller: %w", err)
			}
		}
	} else {
		debt = price
		logType = models.LogTypeDebt
	}

	if err := deps.Auctions.InsertLog(ctx, models.NewAuctionLog(a.ID, logType, a.Winner, price)); err != nil {
		slog.Error("Failed to log auction settlement",
			slog.Int64("auction_id", a.ID),
			slog.String("error", err.Error()))
	}

	if err := deps.Deliveries.Insert(ctx, models.NewDelivery(a, a.Winner, debt)); err != nil {
		return settleOutcome{}, fmt.Errorf("failed to create winner delivery: %w", err)
	}

	slog.Info("Auction settled",
		slog.Int64("auction_id", a.ID),
		slog.String("winner", a.Winner.String()),
		slog.Float64("price", price),
		slog.Bool("paid", paid))
	return settleOutcome{Winner: a.Winner, Price: price, Debt: debt}, nil
}

// Collect hands the player their oldest pending delivery. Any debt on
// the delivery is charged now and forwarded to the money recipient,
// so an unpaid winner settles up at pickup. The delete's rows-affected
// count arbitrates a race with another node collecting the same row.
func Collect(ctx context.Context, deps *Deps, player uuid.UUID) (*models.Delivery, error) {
	delivery, err := deps.Deliveries.OldestFor(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("failed to find delivery: %w", err)
	}
	if delivery == nil {
		return nil, ErrNoDelivery
	}

	if delivery.HasDebt() {
		paid, err := deps.Ledger.Take(ctx, player, delivery.Debt)
		if err != nil {
			return nil, fmt.Errorf("failed to charge delivery debt: %w", err)
		}
		if !paid {
			return nil, ErrDebtUnpaid
		}
	}

	rows, err := deps.Deliveries.Delete(ctx, delivery.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim delivery: %w", err)
	}
	if rows == 0 {
		// Another node won the race. Refund the debt we just charged.
		if delivery.HasDebt() {
			if err := deps.Ledger.Give(ctx, player, delivery.Debt); err != nil {
				slog.Error("Failed to refund delivery debt after lost claim",
					slog.String("player", player.String()),
					slog.Float64("debt", delivery.Debt),
					slog.String("error", err.Error()))
			}
		}
		return nil, ErrDeliveryClaimed
	}

	// The debt forwards to the money recipient only once the claim is
	// certain, so a lost race never pays the seller twice.
	if delivery.HasDebt() && !delivery.WasHouseAuction() {
		if err := deps.Ledger.Give(ctx, delivery.MoneyRecipient, delivery.Debt); err != nil {
			slog.Error("Failed to forward delivery debt",
				slog.String("recipient", delivery.MoneyRecipient.String()),
				slog.Float64("debt", delivery.Debt),
				slog.String("error", err.Error()))
		}
	}

	if err := deps.Bus.Broadcast(ctx, Message{Kind: KindDelivered, AuctionID: delivery.AuctionID}); err != nil {
		slog.Error("Failed to broadcast delivery collection",
			slog.Int64("auction_id", delivery.AuctionID),
			slog.String("error", err.Error()))
	}

	slog.Info("Delivery collected",
		slog.Int64("auction_id", delivery.AuctionID),
		slog.String("player", player.String()),
		slog.Float64("debt", delivery.Debt))
	return delivery, nil
}
