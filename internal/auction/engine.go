package auction

import (
	"context"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/errors"
	"github.com/wasteloop/auction-server/pkg/types"
)

// Broadcaster fans out auction events to live viewers. Delivery is best
// effort; the engine never learns about dropped subscribers.
type Broadcaster interface {
	BroadcastBid(auctionID int, ev types.BidEvent)
	BroadcastClosed(auctionID int, ev types.AuctionClosedEvent)
}

// Engine is the single authority for admitting bids and closing
// auctions. All state transitions for one auction run under that
// auction's store lock.
type Engine struct {
	db       store.Service
	manager  *Manager
	listings listings.Gateway
	live     Broadcaster

	now func() time.Time
}

func NewEngine(db store.Service, manager *Manager, gw listings.Gateway, live Broadcaster) *Engine {
	return &Engine{
		db:       db,
		manager:  manager,
		listings: gw,
		live:     live,
		now:      time.Now,
	}
}

// PlaceBid validates and admits a bid. The new amount must strictly
// exceed the current highest bid; ties are rejected so there is never an
// ambiguous leader.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, bidderID int, amount decimal.Decimal) (types.Bid, error) {
	var placed types.Bid
	err := e.db.WithAuctionLock(auctionID, func() error {
		auction, err := e.manager.AuctionByID(auctionID)
		if err != nil {
			return err
		}

		if !auction.IsActive {
			return errors.New(errors.ErrAuctionClosed, "Auction is not active")
		}
		// Check the clock directly as well: the cached flag may be
		// stale since the last refresh.
		if e.now().After(auction.EndTime) {
			return errors.New(errors.ErrAuctionClosed, "Auction has ended")
		}

		listing, err := e.listings.GetListingByID(auction.ListingID)
		if err != nil {
			return err
		}
		if listing.SellerID == bidderID {
			return errors.New(errors.ErrSelfBid, "Cannot bid on your own auction")
		}

		current := auction.CurrentHighestBid
		if current.IsZero() {
			current = auction.StartingBid
		}
		if amount.LessThanOrEqual(current) {
			return errors.Newf(errors.ErrBidTooLow,
				"Bid must be higher than current highest bid ($%s)", current)
		}

		// A virtual auction materializes on its first bid, keeping its
		// derived id so viewers already subscribed stay attached.
		if auction.Virtual {
			auction.Virtual = false
			if _, err := e.db.CreateAuction(auction); err != nil && !errors.Is(err, errors.ErrAuctionExists) {
				return err
			}
		}

		prevWinner := 0
		existing, err := e.db.BidsByAuction(auctionID)
		if err != nil {
			return err
		}
		for _, b := range existing {
			if b.IsWinning {
				prevWinner = b.ID
			}
		}

		placed, err = e.db.AdmitBid(types.Bid{
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			CreatedAt: e.now().UTC(),
		})
		if err != nil {
			return err
		}

		if _, err := e.db.UpdateAuction(auctionID, func(a *types.Auction) {
			a.CurrentHighestBid = amount
			a.BidCount++
		}); err != nil {
			// The bid record and the auction update are one logical
			// unit. Undo the bid write so neither side is half-applied.
			if delErr := e.db.DeleteBid(placed.ID); delErr != nil {
				log.Error("Failed to roll back bid after auction update failure: ", delErr)
			}
			if prevWinner != 0 {
				if _, promErr := e.db.UpdateBid(prevWinner, func(b *types.Bid) {
					b.IsWinning = true
				}); promErr != nil {
					log.Error("Failed to restore previous winning bid: ", promErr)
				}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return types.Bid{}, err
	}

	log.Debugf("Auction %d updated with new bid: %s by bidder %d", auctionID, amount, bidderID)

	if e.live != nil {
		e.live.BroadcastBid(auctionID, types.BidEvent{
			Type:      types.EventNewBid,
			AuctionID: auctionID,
			Amount:    amount,
			Timestamp: placed.CreatedAt,
		})
	}
	return placed, nil
}

// Bids returns every bid on an auction, highest amount first. Equal
// amounts rank the earlier bid first.
func (e *Engine) Bids(auctionID int) ([]types.Bid, error) {
	bids, err := e.db.BidsByAuction(auctionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].Amount.Equal(bids[j].Amount) {
			return bids[i].Amount.GreaterThan(bids[j].Amount)
		}
		if !bids[i].CreatedAt.Equal(bids[j].CreatedAt) {
			return bids[i].CreatedAt.Before(bids[j].CreatedAt)
		}
		return bids[i].ID < bids[j].ID
	})
	return bids, nil
}

// Close ends an auction. Only the listing's seller or an admin may
// close. With a winning bid present the winner is recorded and the
// listing flips to sold; with no bids the lot just deactivates.
func (e *Engine) Close(auctionID int, requester types.User) (types.Auction, error) {
	var closed types.Auction
	err := e.db.WithAuctionLock(auctionID, func() error {
		auction, err := e.manager.AuctionByID(auctionID)
		if err != nil {
			return err
		}
		if auction.WinnerID != nil {
			return errors.New(errors.ErrAuctionClosed, "Auction is already closed")
		}

		listing, err := e.listings.GetListingByID(auction.ListingID)
		if err != nil {
			// A dangling listing reference still allows an admin to
			// clean up the auction.
			if !requester.IsAdmin() {
				return err
			}
		} else if listing.SellerID != requester.ID && !requester.IsAdmin() {
			return errors.New(errors.ErrForbidden, "Only the seller can end this auction")
		}

		if auction.Virtual {
			auction.Virtual = false
			if _, err := e.db.CreateAuction(auction); err != nil && !errors.Is(err, errors.ErrAuctionExists) {
				return err
			}
		}

		var winnerID *int
		bids, err := e.db.BidsByAuction(auctionID)
		if err != nil {
			return err
		}
		for _, b := range bids {
			if b.IsWinning {
				id := b.BidderID
				winnerID = &id
				break
			}
		}

		now := e.now().UTC()
		closed, err = e.db.UpdateAuction(auctionID, func(a *types.Auction) {
			a.IsActive = false
			a.WinnerID = winnerID
			// Pull end_time back to the close instant. The periodic
			// state refresh derives activity from end_time, so a lot
			// closed early must not keep a live window it could reopen
			// from.
			if a.EndTime.After(now) {
				a.EndTime = now
			}
		})
		if err != nil {
			return err
		}

		if winnerID != nil {
			if _, err := e.listings.MarkSold(auction.ListingID); err != nil {
				return err
			}
			log.Infof("Auction %d closed, won by bidder %d", auctionID, *winnerID)
		} else {
			log.Infof("Auction %d closed with no bids", auctionID)
		}
		return nil
	})
	if err != nil {
		return types.Auction{}, err
	}

	if e.live != nil {
		e.live.BroadcastClosed(auctionID, types.AuctionClosedEvent{
			Type:      types.EventAuctionClosed,
			AuctionID: auctionID,
			WinnerID:  closed.WinnerID,
			Timestamp: e.now().UTC(),
		})
	}
	return closed, nil
}
