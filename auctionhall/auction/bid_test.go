package auction

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/gildhall/auctionhall/auctionhall/database/models"
)

var (
	seller = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	alice  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
	bob    = uuid.MustParse("00000000-0000-0000-0000-000000000003")
)

func activeLot(price, highest float64, winner uuid.UUID) *models.Auction {
	return &models.Auction{
		ID:           1,
		Owner:        seller,
		Winner:       winner,
		State:        models.AuctionStateActive,
		CurrentPrice: price,
		HighestBid:   highest,
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		lot     *models.Auction
		bidder  uuid.UUID
		amount  float64
		wantErr error
	}{
		{
			name:    "owner cannot bid",
			lot:     activeLot(100, 0, uuid.Nil),
			bidder:  seller,
			amount:  200,
			wantErr: ErrSelfBid,
		},
		{
			name: "scheduled lot rejects bids",
			lot: &models.Auction{
				ID: 1, Owner: seller,
				State:        models.AuctionStateScheduled,
				CurrentPrice: 100,
			},
			bidder:  alice,
			amount:  200,
			wantErr: ErrNotActive,
		},
		{
			name:   "no winner, bid equal to price is fine",
			lot:    activeLot(100, 0, uuid.Nil),
			bidder: alice,
			amount: 100,
		},
		{
			name:    "no winner, bid below price",
			lot:     activeLot(100, 0, uuid.Nil),
			bidder:  alice,
			amount:  99,
			wantErr: &BidTooLowError{Price: 100},
		},
		{
			name:    "winner exists, bid matching price exactly",
			lot:     activeLot(100, 150, bob),
			bidder:  alice,
			amount:  100,
			wantErr: &BidMatchesPriceError{Price: 100},
		},
		{
			name:    "winner exists, bid below price",
			lot:     activeLot(100, 150, bob),
			bidder:  alice,
			amount:  50,
			wantErr: &BidTooLowError{Price: 100, MustExceed: true},
		},
		{
			name:   "winner exists, bid above price",
			lot:    activeLot(100, 150, bob),
			bidder: alice,
			amount: 100.01,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.lot, tt.bidder, tt.amount)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Check() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Check() = nil, want %v", tt.wantErr)
			}
			var tooLow *BidTooLowError
			var matches *BidMatchesPriceError
			switch want := tt.wantErr.(type) {
			case *BidTooLowError:
				if !errors.As(err, &tooLow) || *tooLow != *want {
					t.Fatalf("Check() = %v, want %v", err, want)
				}
			case *BidMatchesPriceError:
				if !errors.As(err, &matches) || *matches != *want {
					t.Fatalf("Check() = %v, want %v", err, want)
				}
			default:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Check() = %v, want %v", err, tt.wantErr)
				}
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		lot     *models.Auction
		bidder  uuid.UUID
		amount  float64
		want    Resolution
		wantErr error
	}{
		{
			name:   "first bid takes the lead at the asking price",
			lot:    activeLot(100, 0, uuid.Nil),
			bidder: alice,
			amount: 100,
			want:   Resolution{Type: BidWinner, Price: 100, Highest: 100, Winner: alice},
		},
		{
			name:   "beating the concealed top bid reveals it as the new price",
			lot:    activeLot(100, 150, bob),
			bidder: alice,
			amount: 200,
			want:   Resolution{Type: BidWinner, Price: 150, Highest: 200, Winner: alice},
		},
		{
			name:   "bid between price and top bid only raises the price",
			lot:    activeLot(100, 150, bob),
			bidder: alice,
			amount: 120,
			want:   Resolution{Type: BidRaise, Price: 120, Highest: 150, Winner: bob},
		},
		{
			name:   "winner raising their own ceiling stays silent",
			lot:    activeLot(120, 150, bob),
			bidder: bob,
			amount: 160,
			want:   Resolution{Type: BidSilent, Price: 120, Highest: 160, Winner: bob},
		},
		{
			name:    "winner cannot lower their own bid",
			lot:     activeLot(120, 150, bob),
			bidder:  bob,
			amount:  140,
			wantErr: &AlreadyBidError{Amount: 150},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.lot, tt.bidder, tt.amount)
			if tt.wantErr != nil {
				var already *AlreadyBidError
				if !errors.As(err, &already) || *already != *tt.wantErr.(*AlreadyBidError) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSuggestedBid(t *testing.T) {
	tests := []struct {
		name      string
		lot       *models.Auction
		playerBid float64
		want      float64
	}{
		{
			name: "no winner suggests the asking price",
			lot:  activeLot(100, 0, uuid.Nil),
			want: 100,
		},
		{
			name: "winner present suggests one above the price",
			lot:  activeLot(100, 150, bob),
			want: 101,
		},
		{
			name:      "own previous bid pushes the suggestion up",
			lot:       activeLot(100, 150, bob),
			playerBid: 130,
			want:      131,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SuggestedBid(tt.lot, tt.playerBid); got != tt.want {
				t.Fatalf("SuggestedBid() = %v, want %v", got, tt.want)
			}
		})
	}
}
