package auction

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

// MinIncrement is the smallest amount by which a bid must clear a
// competing figure.
const MinIncrement = 0.01

var (
	ErrSelfBid   = errors.New("you cannot bid on your own auction")
	ErrNotActive = errors.New("auction not active")

	// ErrUnreachableBid marks the bid outcome that matches none of
	// SILENT, WINNER or RAISE. It is an invariant violation: the bid
	// is rejected and nothing is persisted.
	ErrUnreachableBid = errors.New("bid matches no valid outcome")
)

// BidTooLowError rejects a bid below the public floor. MustExceed is
// set when a winner exists, in which case the bid has to beat the
// price rather than merely match it.
type BidTooLowError struct {
	Price      float64
	MustExceed bool
}

func (e *BidTooLowError) Error() string {
	if e.MustExceed {
		return fmt.Sprintf("you must bid more than %.2f", e.Price)
	}
	return fmt.Sprintf("you must bid at least %.2f", e.Price)
}

// BidMatchesPriceError is the affordance case: the bid equals the
// public price exactly while a winner exists. The caller should offer
// a one-click "bid more than price" action instead of failing.
type BidMatchesPriceError struct {
	Price float64
}

func (e *BidMatchesPriceError) Error() string {
	return fmt.Sprintf("bid more than %.2f to compete", e.Price)
}

// AlreadyBidError rejects the current winner lowering their own bid.
type AlreadyBidError struct {
	Amount float64
}

func (e *AlreadyBidError) Error() string {
	return fmt.Sprintf("you already bid %.2f", e.Amount)
}

// BidType classifies an accepted bid.
type BidType string

const (
	// BidSilent: the winner raised their own secret bid. Only the
	// highest bid changes and only the bidder learns about it.
	BidSilent BidType = "silent"
	// BidWinner: a new top bidder. The public price rises to the old
	// secret maximum, never to the new bid.
	BidWinner BidType = "winner"
	// BidRaise: the bid beat the public price but not the secret top
	// bid. The public price becomes the bid amount.
	BidRaise BidType = "raise"
)

// Resolution describes exactly which auction fields an accepted bid
// changes. Price is the new public figure, Highest the new secret top
// bid, Winner the (possibly unchanged) top bidder.
type Resolution struct {
	Type    BidType
	Price   float64
	Highest float64
	Winner  uuid.UUID
}

// Check runs the pre-funds validations in order: self-bid, inactive
// state, then the floor rules. It never touches I/O.
func Check(a *models.Auction, bidder uuid.UUID, amount float64) error {
	if a.IsOwner(bidder) {
		return ErrSelfBid
	}
	if !a.State.IsActive() {
		return ErrNotActive
	}
	price := a.CurrentPrice
	if a.HasWinner() && amount-price < MinIncrement {
		if math.Abs(amount-price) < MinIncrement {
			return &BidMatchesPriceError{Price: price}
		}
		return &BidTooLowError{Price: price, MustExceed: true}
	} else if amount < price {
		return &BidTooLowError{Price: price}
	}
	return nil
}

// Resolve classifies a bid that passed Check and the funds check. The
// public price only ever rises to the minimum needed to beat the
// previous public price or a competing bid; the true ceiling stays
// concealed.
func Resolve(a *models.Auction, bidder uuid.UUID, amount float64) (Resolution, error) {
	highest := a.HighestBid
	price := a.CurrentPrice
	winning := !a.HasWinner() || amount-highest >= MinIncrement

	if a.IsWinner(bidder) {
		if !winning {
			return Resolution{}, &AlreadyBidError{Amount: highest}
		}
		return Resolution{Type: BidSilent, Price: price, Highest: amount, Winner: a.Winner}, nil
	}
	if winning {
		return Resolution{Type: BidWinner, Price: math.Max(highest, price), Highest: amount, Winner: bidder}, nil
	}
	if amount-price >= MinIncrement {
		return Resolution{Type: BidRaise, Price: amount, Highest: highest, Winner: a.Winner}, nil
	}
	return Resolution{}, ErrUnreachableBid
}

// SuggestedBid is the amount the "bid" affordance pre-fills: just
// enough to compete, factoring in the player's own previous bid.
func SuggestedBid(a *models.Auction, playerBid float64) float64 {
	base := a.CurrentPrice
	if a.HasWinner() {
		base = a.CurrentPrice + 1.0
	}
	return math.Max(base, playerBid+1.0)
}
