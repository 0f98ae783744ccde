// Package auction holds the bidding core: the lifecycle manager that
// produces a time-corrected view of every auction, and the engine that
// admits bids and closes lots.
package auction

import (
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/wasteloop/auction-server/configs"
	"github.com/wasteloop/auction-server/internal/listings"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/errors"
	"github.com/wasteloop/auction-server/pkg/types"
)

// virtualIDOffset keeps synthesized auction ids out of the persisted id
// space. A virtual auction for listing N always has id N+virtualIDOffset.
const virtualIDOffset = 1_000_000

var (
	startingBidFraction = decimal.NewFromFloat(0.60)
	virtualBidMarkup    = decimal.NewFromFloat(1.15)
	buyNowMarkup        = decimal.NewFromFloat(1.05)
)

// Manager merges three auction sources into one queryable view:
// persisted records, configuration seeds, and virtual records
// synthesized from auction-type listings.
type Manager struct {
	db       store.Service
	listings listings.Gateway
	seeds    []configs.SeedAuction

	seedMu sync.Mutex

	now func() time.Time
}

func NewManager(db store.Service, gw listings.Gateway, seeds []configs.SeedAuction) *Manager {
	return &Manager{
		db:       db,
		listings: gw,
		seeds:    seeds,
		now:      time.Now,
	}
}

// All returns the merged, time-corrected view: persisted auctions
// (seeded on first call if the collection is empty) followed by virtual
// auctions for auction-type listings without a persisted record.
func (m *Manager) All() ([]types.Auction, error) {
	persisted, err := m.seedIfEmpty()
	if err != nil {
		return nil, err
	}

	persisted, err = m.refreshState(persisted)
	if err != nil {
		return nil, err
	}

	byListing := make(map[int]bool, len(persisted))
	merged := make([]types.Auction, 0, len(persisted))
	for _, a := range persisted {
		byListing[a.ListingID] = true
		merged = append(merged, m.overlay(a))
	}

	all, err := m.listings.Listings()
	if err != nil {
		return nil, err
	}
	for _, l := range all {
		if byListing[l.ID] || !l.IsAuctionSale() {
			continue
		}
		merged = append(merged, m.virtualFromListing(l))
	}
	return merged, nil
}

// ActiveAuctions returns open lots sorted active-first, then by closing
// time ascending, ties broken by id so pagination stays deterministic.
func (m *Manager) ActiveAuctions(skip, limit int) ([]types.Auction, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}

	active := make([]types.Auction, 0, len(all))
	for _, a := range all {
		if a.IsActive {
			active = append(active, a)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		if active[i].IsActive != active[j].IsActive {
			return active[i].IsActive
		}
		if !active[i].EndTime.Equal(active[j].EndTime) {
			return active[i].EndTime.Before(active[j].EndTime)
		}
		return active[i].ID < active[j].ID
	})

	if skip < 0 {
		skip = 0
	}
	// A non-positive limit is an empty page, not "everything".
	if limit <= 0 || skip >= len(active) {
		return []types.Auction{}, nil
	}
	end := skip + limit
	if end > len(active) {
		end = len(active)
	}
	return active[skip:end], nil
}

// ForListing returns the auction tied to a listing, preferring a
// persisted record over a virtual one.
func (m *Manager) ForListing(listingID int) (types.Auction, error) {
	all, err := m.All()
	if err != nil {
		return types.Auction{}, err
	}
	for _, a := range all {
		if a.ListingID == listingID && !a.Virtual {
			return a, nil
		}
	}
	for _, a := range all {
		if a.ListingID == listingID {
			return a, nil
		}
	}
	return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "Auction not found")
}

// AuctionByID resolves an auction across all three sources.
func (m *Manager) AuctionByID(id int) (types.Auction, error) {
	all, err := m.All()
	if err != nil {
		return types.Auction{}, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, nil
		}
	}
	return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "Auction not found")
}

// CreateAuction opens a seller-initiated auction for a listing. Only the
// listing's seller or an admin may start one, and a listing can have at
// most one persisted auction.
func (m *Manager) CreateAuction(listingID int, requester types.User, startingBid decimal.Decimal, duration time.Duration) (types.Auction, error) {
	listing, err := m.listings.GetListingByID(listingID)
	if err != nil {
		return types.Auction{}, err
	}
	if listing.SellerID != requester.ID && !requester.IsAdmin() {
		return types.Auction{}, errors.New(errors.ErrForbidden, "Only the seller can start an auction for this listing")
	}
	if _, err := m.db.GetAuctionByListingID(listingID); err == nil {
		return types.Auction{}, errors.New(errors.ErrAuctionExists, "An auction already exists for this listing")
	}
	if startingBid.LessThanOrEqual(decimal.Zero) {
		return types.Auction{}, errors.New(errors.ErrBidTooLow, "Starting bid must be positive")
	}
	if duration <= 0 {
		duration = 24 * time.Hour
	}

	now := m.now().UTC().Truncate(time.Second)
	created, err := m.db.CreateAuction(types.Auction{
		ListingID:         listingID,
		StartingBid:       startingBid,
		CurrentHighestBid: startingBid,
		StartTime:         now,
		EndTime:           now.Add(duration),
		IsActive:          true,
		CreatedAt:         now,
	})
	if err != nil {
		return types.Auction{}, err
	}
	log.Infof("Auction %d opened for listing %d, closes %s", created.ID, listingID, created.EndTime)
	return m.overlay(created), nil
}

// seedIfEmpty bootstraps the auction collection from configuration the
// first time the store is read while empty.
func (m *Manager) seedIfEmpty() ([]types.Auction, error) {
	m.seedMu.Lock()
	defer m.seedMu.Unlock()

	auctions, err := m.db.Auctions()
	if err != nil {
		return nil, err
	}
	if len(auctions) > 0 || len(m.seeds) == 0 {
		return auctions, nil
	}

	now := m.now().UTC().Truncate(time.Second)
	seeded := make([]types.Auction, 0, len(m.seeds))
	for i, seed := range m.seeds {
		start := now.Add(-time.Duration(seed.HoursElapsed) * time.Hour)
		end := now.Add(time.Duration(seed.HoursUntilClose) * time.Hour)

		a := types.Auction{
			ID:                i + 1,
			ListingID:         seed.ListingID,
			StartingBid:       decimal.NewFromFloat(seed.StartingBid),
			CurrentHighestBid: decimal.NewFromFloat(seed.CurrentHighestBid),
			BidCount:          seed.BidCount,
			StartTime:         start,
			EndTime:           end,
			IsActive:          true,
			SellerCompany:     seed.SellerCompany,
			SellerContact:     seed.SellerContact,
			Watchers:          seed.Watchers,
			Featured:          seed.Featured,
			CreatedAt:         start,
		}
		if listing, err := m.listings.GetListingByID(seed.ListingID); err == nil {
			buyNow := listing.TotalValue.Mul(buyNowMarkup)
			a.BuyNowPrice = &buyNow
		}
		seeded = append(seeded, a)
	}

	if err := m.db.SaveAuctions(seeded); err != nil {
		return nil, err
	}
	log.Infof("Seeded %d demo auctions", len(seeded))
	return seeded, nil
}

// refreshState recomputes activity against the wall clock and fills in
// safe defaults, persisting only when something actually changed so
// concurrent readers do not cause write storms.
func (m *Manager) refreshState(auctions []types.Auction) ([]types.Auction, error) {
	now := m.now()
	changed := false
	for i := range auctions {
		a := &auctions[i]

		active := a.EndTime.After(now)
		// A closed auction stays closed even if end_time moves.
		if a.WinnerID != nil {
			active = false
		}
		if a.IsActive != active {
			a.IsActive = active
			changed = true
		}
		if a.BidCount < 0 {
			a.BidCount = 0
			changed = true
		}
		if a.CurrentHighestBid.IsZero() && !a.StartingBid.IsZero() {
			a.CurrentHighestBid = a.StartingBid
			changed = true
		}
	}

	if changed {
		if err := m.db.SaveAuctions(auctions); err != nil {
			return nil, err
		}
	}
	return auctions, nil
}

// overlay refreshes display attributes from the backing listing and
// forces closed state when the listing itself is terminal. A persisted
// auction with a dangling listing reference is returned untouched so
// the integrity problem stays visible.
func (m *Manager) overlay(a types.Auction) types.Auction {
	listing, err := m.listings.GetListingByID(a.ListingID)
	if err != nil {
		log.Warnf("Auction %d references missing listing %d", a.ID, a.ListingID)
		return a
	}

	a.ListingTitle = listing.Title
	a.MaterialName = listing.MaterialName
	a.Category = listing.Category
	a.Quantity = listing.Quantity
	a.QuantityUnit = listing.QuantityUnit
	a.Location = listing.Location
	if len(listing.Images) > 0 {
		a.Image = listing.Images[0]
	}
	if listing.TotalValue.GreaterThan(decimal.Zero) {
		buyNow := listing.TotalValue.Mul(buyNowMarkup)
		a.BuyNowPrice = &buyNow
	}
	if listing.IsTerminal() {
		a.IsActive = false
	}
	return a
}

// virtualFromListing synthesizes a deterministic auction for an
// auction-type listing with no persisted record. The derivation depends
// only on the listing and the current hour, so repeated reads agree
// without persisting anything.
func (m *Manager) virtualFromListing(l types.Listing) types.Auction {
	starting := l.TotalValue.Mul(startingBidFraction)
	if !l.TotalValue.GreaterThan(decimal.Zero) {
		starting = l.PricePerUnit
	}
	highest := starting
	if l.Inquiries > 0 {
		highest = starting.Mul(virtualBidMarkup)
	}

	hour := m.now().UTC().Truncate(time.Hour)
	start := hour.Add(-time.Duration(7*l.ID%48+1) * time.Hour)
	end := hour.Add(time.Duration(11*l.ID%36+1) * time.Hour)

	a := types.Auction{
		ID:                l.ID + virtualIDOffset,
		ListingID:         l.ID,
		StartingBid:       starting,
		CurrentHighestBid: highest,
		BidCount:          l.Inquiries / 2,
		Watchers:          l.Views / 5,
		StartTime:         start,
		EndTime:           end,
		IsActive:          !l.IsTerminal() && end.After(m.now()),
		CreatedAt:         start,
		Virtual:           true,
	}
	return m.overlay(a)
}
