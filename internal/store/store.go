package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/wasteloop/auction-server/pkg/errors"
	"github.com/wasteloop/auction-server/pkg/types"
)

const (
	usersFile    = "users.json"
	listingsFile = "listings.json"
	auctionsFile = "auctions.json"
	bidsFile     = "bids.json"
)

// Service is the durable key-value contract for the marketplace
// collections. Collections are whole-file JSON documents; writes replace
// the collection atomically. Callers that read-modify-write an auction
// must do so inside WithAuctionLock.
type Service interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Close releases the store. The file store holds no descriptors
	// between calls, so this only logs.
	Close() error

	// USER METHODS
	GetUserByEmail(email string) (types.User, error)
	GetUserByID(id int) (types.User, error)

	// LISTING METHODS
	Listings() ([]types.Listing, error)
	GetListingByID(id int) (types.Listing, error)
	UpdateListing(id int, mutate func(*types.Listing)) (types.Listing, error)

	// AUCTION METHODS
	Auctions() ([]types.Auction, error)
	GetAuctionByID(id int) (types.Auction, error)
	GetAuctionByListingID(listingID int) (types.Auction, error)
	CreateAuction(a types.Auction) (types.Auction, error)
	SaveAuctions(auctions []types.Auction) error
	UpdateAuction(id int, mutate func(*types.Auction)) (types.Auction, error)

	// BID METHODS
	Bids() ([]types.Bid, error)
	BidsByAuction(auctionID int) ([]types.Bid, error)
	CreateBid(b types.Bid) (types.Bid, error)
	AdmitBid(b types.Bid) (types.Bid, error)
	UpdateBid(id int, mutate func(*types.Bid)) (types.Bid, error)
	SaveBids(bids []types.Bid) error
	DeleteBid(id int) error

	// WithAuctionLock serializes the read-modify-write sequence for a
	// single auction. Locks are per auction id; different auctions do
	// not contend.
	WithAuctionLock(auctionID int, fn func() error) error
}

type fileStore struct {
	dir string

	mu sync.RWMutex // guards all file reads and writes

	lockMu       sync.Mutex
	auctionLocks map[int]*sync.Mutex
}

func New(dir string) (Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.WrapCode(errors.ErrStorage, err, "error creating storage directory")
	}
	log.Debugf("File store opened at %s", dir)
	return &fileStore{
		dir:          dir,
		auctionLocks: make(map[int]*sync.Mutex),
	}, nil
}

func (s *fileStore) Health() map[string]string {
	stats := map[string]string{"status": "up", "dir": s.dir}

	probe := filepath.Join(s.dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("store not writable: %v", err)
		return stats
	}
	os.Remove(probe)

	auctions, err := s.Auctions()
	if err == nil {
		stats["auctions"] = strconv.Itoa(len(auctions))
	}
	bids, err := s.Bids()
	if err == nil {
		stats["bids"] = strconv.Itoa(len(bids))
	}
	return stats
}

func (s *fileStore) Close() error {
	log.Info("File store closed")
	return nil
}

// load reads a whole collection. A missing file is an empty collection,
// matching a fresh install.
func (s *fileStore) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.WrapCode(errors.ErrStorage, err, "error reading "+name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.WrapCode(errors.ErrStorage, err, "error decoding "+name)
	}
	return nil
}

// save replaces a collection atomically: write to a temp file in the
// same directory, then rename over the target. A failed write never
// leaves a truncated collection behind.
func (s *fileStore) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.WrapCode(errors.ErrStorage, err, "error encoding "+name)
	}

	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return errors.WrapCode(errors.ErrStorage, err, "error creating temp file for "+name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.WrapCode(errors.ErrStorage, err, "error writing "+name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.WrapCode(errors.ErrStorage, err, "error closing "+name)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return errors.WrapCode(errors.ErrStorage, err, "error replacing "+name)
	}
	return nil
}

// nextID allocates the next sequential id: one past the current maximum.
func nextID[T any](items []T, id func(T) int) int {
	max := 0
	for _, item := range items {
		if v := id(item); v > max {
			max = v
		}
	}
	return max + 1
}

func (s *fileStore) GetUserByEmail(email string) (types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []types.User
	if err := s.load(usersFile, &users); err != nil {
		return types.User{}, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, errors.New(errors.ErrInvalidToken, "user not found")
}

func (s *fileStore) GetUserByID(id int) (types.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []types.User
	if err := s.load(usersFile, &users); err != nil {
		return types.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return types.User{}, errors.New(errors.ErrInvalidToken, "user not found")
}

func (s *fileStore) Listings() ([]types.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var listings []types.Listing
	if err := s.load(listingsFile, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (s *fileStore) GetListingByID(id int) (types.Listing, error) {
	listings, err := s.Listings()
	if err != nil {
		return types.Listing{}, err
	}
	for _, l := range listings {
		if l.ID == id {
			return l, nil
		}
	}
	return types.Listing{}, errors.New(errors.ErrListingNotFound, "listing not found")
}

func (s *fileStore) UpdateListing(id int, mutate func(*types.Listing)) (types.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var listings []types.Listing
	if err := s.load(listingsFile, &listings); err != nil {
		return types.Listing{}, err
	}
	for i := range listings {
		if listings[i].ID == id {
			mutate(&listings[i])
			now := time.Now().UTC()
			listings[i].UpdatedAt = &now
			if err := s.save(listingsFile, listings); err != nil {
				return types.Listing{}, err
			}
			return listings[i], nil
		}
	}
	return types.Listing{}, errors.New(errors.ErrListingNotFound, "listing not found")
}

func (s *fileStore) Auctions() ([]types.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var auctions []types.Auction
	if err := s.load(auctionsFile, &auctions); err != nil {
		return nil, err
	}
	return auctions, nil
}

func (s *fileStore) GetAuctionByID(id int) (types.Auction, error) {
	auctions, err := s.Auctions()
	if err != nil {
		return types.Auction{}, err
	}
	for _, a := range auctions {
		if a.ID == id {
			return a, nil
		}
	}
	return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
}

func (s *fileStore) GetAuctionByListingID(listingID int) (types.Auction, error) {
	auctions, err := s.Auctions()
	if err != nil {
		return types.Auction{}, err
	}
	for _, a := range auctions {
		if a.ListingID == listingID {
			return a, nil
		}
	}
	return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
}

// CreateAuction appends a new auction. A zero id gets the next
// sequential id; a non-zero id is kept, which is how virtual auctions
// materialize without changing identity.
func (s *fileStore) CreateAuction(a types.Auction) (types.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var auctions []types.Auction
	if err := s.load(auctionsFile, &auctions); err != nil {
		return types.Auction{}, err
	}
	for _, existing := range auctions {
		if existing.ID == a.ID && a.ID != 0 {
			return types.Auction{}, errors.New(errors.ErrAuctionExists, "auction already exists")
		}
	}
	if a.ID == 0 {
		a.ID = nextID(auctions, func(x types.Auction) int { return x.ID })
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	auctions = append(auctions, a)
	if err := s.save(auctionsFile, auctions); err != nil {
		return types.Auction{}, err
	}
	log.Debugf("Auction %d created for listing %d", a.ID, a.ListingID)
	return a, nil
}

func (s *fileStore) SaveAuctions(auctions []types.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(auctionsFile, auctions)
}

func (s *fileStore) UpdateAuction(id int, mutate func(*types.Auction)) (types.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var auctions []types.Auction
	if err := s.load(auctionsFile, &auctions); err != nil {
		return types.Auction{}, err
	}
	for i := range auctions {
		if auctions[i].ID == id {
			mutate(&auctions[i])
			now := time.Now().UTC()
			auctions[i].UpdatedAt = &now
			if err := s.save(auctionsFile, auctions); err != nil {
				return types.Auction{}, err
			}
			return auctions[i], nil
		}
	}
	return types.Auction{}, errors.New(errors.ErrAuctionNotFound, "auction not found")
}

func (s *fileStore) Bids() ([]types.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bids []types.Bid
	if err := s.load(bidsFile, &bids); err != nil {
		return nil, err
	}
	return bids, nil
}

func (s *fileStore) BidsByAuction(auctionID int) ([]types.Bid, error) {
	bids, err := s.Bids()
	if err != nil {
		return nil, err
	}
	filtered := make([]types.Bid, 0, len(bids))
	for _, b := range bids {
		if b.AuctionID == auctionID {
			filtered = append(filtered, b)
		}
	}
	return filtered, nil
}

func (s *fileStore) CreateBid(b types.Bid) (types.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []types.Bid
	if err := s.load(bidsFile, &bids); err != nil {
		return types.Bid{}, err
	}
	b.ID = nextID(bids, func(x types.Bid) int { return x.ID })
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	bids = append(bids, b)
	if err := s.save(bidsFile, bids); err != nil {
		return types.Bid{}, err
	}
	return b, nil
}

// AdmitBid demotes every existing bid on the auction and appends the
// new bid as winning, all in a single collection write so a crash never
// leaves two winning bids behind.
func (s *fileStore) AdmitBid(b types.Bid) (types.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []types.Bid
	if err := s.load(bidsFile, &bids); err != nil {
		return types.Bid{}, err
	}
	for i := range bids {
		if bids[i].AuctionID == b.AuctionID {
			bids[i].IsWinning = false
		}
	}
	b.ID = nextID(bids, func(x types.Bid) int { return x.ID })
	b.IsWinning = true
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	bids = append(bids, b)
	if err := s.save(bidsFile, bids); err != nil {
		return types.Bid{}, err
	}
	return b, nil
}

func (s *fileStore) UpdateBid(id int, mutate func(*types.Bid)) (types.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []types.Bid
	if err := s.load(bidsFile, &bids); err != nil {
		return types.Bid{}, err
	}
	for i := range bids {
		if bids[i].ID == id {
			mutate(&bids[i])
			if err := s.save(bidsFile, bids); err != nil {
				return types.Bid{}, err
			}
			return bids[i], nil
		}
	}
	return types.Bid{}, errors.New(errors.ErrInternalServer, "bid not found")
}

func (s *fileStore) SaveBids(bids []types.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(bidsFile, bids)
}

// DeleteBid removes a bid record. Used to roll back a bid whose auction
// update failed, keeping the two writes one logical unit.
func (s *fileStore) DeleteBid(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bids []types.Bid
	if err := s.load(bidsFile, &bids); err != nil {
		return err
	}
	kept := bids[:0]
	for _, b := range bids {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	return s.save(bidsFile, kept)
}

func (s *fileStore) WithAuctionLock(auctionID int, fn func() error) error {
	s.lockMu.Lock()
	lock, ok := s.auctionLocks[auctionID]
	if !ok {
		lock = &sync.Mutex{}
		s.auctionLocks[auctionID] = lock
	}
	s.lockMu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}
