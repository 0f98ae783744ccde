package types

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The marketplace API and the JSON data files both carry amounts as
	// plain numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleAdmin  = "admin"
	RoleSeller = "seller"
	RoleBuyer  = "buyer"
)

const (
	ListingStatusActive    = "active"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
	ListingStatusInactive  = "inactive"
	ListingStatusExpired   = "expired"
)

const (
	SaleTypeFixedPrice = "fixed_price"
	SaleTypeAuction    = "auction"
	// Some imported listings carry the long form.
	SaleTypeForAuction = "for auction"
)

type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type Listing struct {
	ID           int             `json:"id"`
	SellerID     int             `json:"seller_id"`
	Title        string          `json:"title"`
	MaterialName string          `json:"material_name"`
	Category     string          `json:"category"`
	Quantity     float64         `json:"quantity"`
	QuantityUnit string          `json:"quantity_unit"`
	Location     string          `json:"location"`
	Images       []string        `json:"images,omitempty"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	TotalValue   decimal.Decimal `json:"total_value"`
	SaleType     string          `json:"sale_type"`
	Status       string          `json:"status"`
	Views        int             `json:"views"`
	Inquiries    int             `json:"inquiries"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

// IsAuctionSale reports whether the listing is sold through bidding
// rather than at a fixed price.
func (l Listing) IsAuctionSale() bool {
	return l.SaleType == SaleTypeAuction || l.SaleType == SaleTypeForAuction
}

// IsTerminal reports whether the listing can no longer be bid on.
func (l Listing) IsTerminal() bool {
	switch l.Status {
	case ListingStatusSold, ListingStatusCancelled, ListingStatusInactive, ListingStatusExpired:
		return true
	}
	return false
}

type Auction struct {
	ID                int             `json:"id"`
	ListingID         int             `json:"listing_id"`
	StartingBid       decimal.Decimal `json:"starting_bid"`
	CurrentHighestBid decimal.Decimal `json:"current_highest_bid"`
	BidCount          int             `json:"bid_count"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time"`
	IsActive          bool            `json:"is_active"`
	WinnerID          *int            `json:"winner_id"`

	// Listing context, refreshed from the listing record on every read.
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty"`
	ListingTitle  string           `json:"listing_title,omitempty"`
	MaterialName  string           `json:"material_name,omitempty"`
	Category      string           `json:"category,omitempty"`
	Quantity      float64          `json:"quantity,omitempty"`
	QuantityUnit  string           `json:"quantity_unit,omitempty"`
	Location      string           `json:"location,omitempty"`
	Image         string           `json:"image,omitempty"`
	SellerCompany string           `json:"seller_company,omitempty"`
	SellerContact string           `json:"seller_contact,omitempty"`
	Watchers      int              `json:"watchers"`
	Featured      bool             `json:"featured"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`

	// Virtual marks a record synthesized from an auction-type listing
	// that has no persisted auction yet. Never stored.
	Virtual bool `json:"-"`
}

type Bid struct {
	ID        int             `json:"id"`
	AuctionID int             `json:"auction_id"`
	BidderID  int             `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsWinning bool            `json:"is_winning"`
	CreatedAt time.Time       `json:"created_at"`
}

// Live-channel event payloads, delivered to every viewer subscribed to
// an auction.
const (
	EventNewBid        = "new_bid"
	EventAuctionState  = "auction_state"
	EventAuctionClosed = "auction_closed"
)

type BidEvent struct {
	Type      string          `json:"type"`
	AuctionID int             `json:"auction_id"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}

type AuctionStateEvent struct {
	Type              string          `json:"type"`
	AuctionID         int             `json:"auction_id"`
	CurrentHighestBid decimal.Decimal `json:"current_highest_bid"`
	EndTime           time.Time       `json:"end_time"`
	IsActive          bool            `json:"is_active"`
}

type AuctionClosedEvent struct {
	Type      string    `json:"type"`
	AuctionID int       `json:"auction_id"`
	WinnerID  *int      `json:"winner_id"`
	Timestamp time.Time `json:"timestamp"`
}
