package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasteloop/auction-server/pkg/errors"
	"github.com/wasteloop/auction-server/pkg/types"
)

func newTestStore(t *testing.T) (Service, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	return s, dir
}

func TestAuctionRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.CreateAuction(types.Auction{
		ListingID:         5,
		StartingBid:       decimal.NewFromInt(1000),
		CurrentHighestBid: decimal.NewFromInt(1000),
		StartTime:         time.Now().UTC(),
		EndTime:           time.Now().UTC().Add(time.Hour),
		IsActive:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.ID, "first id is sequential from 1")

	got, err := s.GetAuctionByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.ListingID)
	assert.True(t, got.StartingBid.Equal(decimal.NewFromInt(1000)))

	byListing, err := s.GetAuctionByListingID(5)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byListing.ID)

	_, err = s.GetAuctionByID(99)
	require.Error(t, err)
}

func TestCreateAuction_KeepsExplicitID(t *testing.T) {
	s, _ := newTestStore(t)

	a, err := s.CreateAuction(types.Auction{ID: 1_000_042, ListingID: 42})
	require.NoError(t, err)
	assert.Equal(t, 1_000_042, a.ID)

	// The same id cannot materialize twice.
	_, err = s.CreateAuction(types.Auction{ID: 1_000_042, ListingID: 42})
	require.Error(t, err)
}

func TestAdmitBidDemotesPreviousWinner(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.AdmitBid(types.Bid{AuctionID: 1, BidderID: 2, Amount: decimal.NewFromInt(1200)})
	require.NoError(t, err)
	assert.True(t, first.IsWinning)

	second, err := s.AdmitBid(types.Bid{AuctionID: 1, BidderID: 3, Amount: decimal.NewFromInt(1500)})
	require.NoError(t, err)
	assert.True(t, second.IsWinning)
	assert.Greater(t, second.ID, first.ID)

	// A bid on another auction is untouched.
	other, err := s.AdmitBid(types.Bid{AuctionID: 2, BidderID: 4, Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.True(t, other.IsWinning)

	bids, err := s.BidsByAuction(1)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	winning := 0
	for _, b := range bids {
		if b.IsWinning {
			winning++
			assert.Equal(t, second.ID, b.ID)
		}
	}
	assert.Equal(t, 1, winning)
}

func TestDeleteBid(t *testing.T) {
	s, _ := newTestStore(t)

	b, err := s.CreateBid(types.Bid{AuctionID: 1, BidderID: 2, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	require.NoError(t, s.DeleteBid(b.ID))

	bids, err := s.BidsByAuction(1)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestUpdateAuctionPersists(t *testing.T) {
	s, dir := newTestStore(t)

	created, err := s.CreateAuction(types.Auction{ListingID: 1, StartingBid: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = s.UpdateAuction(created.ID, func(a *types.Auction) {
		a.CurrentHighestBid = decimal.NewFromInt(250)
		a.BidCount++
	})
	require.NoError(t, err)

	// Re-open the directory to prove the write hit disk.
	reopened, err := New(dir)
	require.NoError(t, err)
	got, err := reopened.GetAuctionByID(created.ID)
	require.NoError(t, err)
	assert.True(t, got.CurrentHighestBid.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, 1, got.BidCount)
	assert.NotNil(t, got.UpdatedAt)
}

func TestSavedCollectionIsValidJSON(t *testing.T) {
	s, dir := newTestStore(t)

	_, err := s.CreateAuction(types.Auction{ListingID: 1, StartingBid: decimal.NewFromInt(100)})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "auctions.json"))
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)

	// Amounts are stored as plain numbers, not quoted strings.
	_, isNumber := decoded[0]["starting_bid"].(float64)
	assert.True(t, isNumber)
}

func TestWithAuctionLockSerializes(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.CreateAuction(types.Auction{ListingID: 1, StartingBid: decimal.NewFromInt(0)})
	require.NoError(t, err)

	// Racing read-modify-write increments; the per-auction lock must
	// make them all land.
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithAuctionLock(created.ID, func() error {
				a, err := s.GetAuctionByID(created.ID)
				if err != nil {
					return err
				}
				_, err = s.UpdateAuction(created.ID, func(x *types.Auction) {
					x.BidCount = a.BidCount + 1
				})
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetAuctionByID(created.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.BidCount)
}

func TestMissingFilesAreEmptyCollections(t *testing.T) {
	s, _ := newTestStore(t)

	auctions, err := s.Auctions()
	require.NoError(t, err)
	assert.Empty(t, auctions)

	bids, err := s.Bids()
	require.NoError(t, err)
	assert.Empty(t, bids)

	_, err = s.GetListingByID(1)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _ := newTestStore(t)
	stats := s.Health()
	assert.Equal(t, "up", stats["status"])
}

func TestCorruptCollectionCarriesStorageCode(t *testing.T) {
	s, dir := newTestStore(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, auctionsFile), []byte("{not json"), 0o644))

	_, err := s.Auctions()
	require.Error(t, err)
	assert.Equal(t, errors.ErrStorage, errors.Code(err))
}
