// Package listings is the boundary to the marketplace catalog. The
// auction core only ever reads listings, except for the single "mark
// sold" transition performed when an auction closes with a winner.
package listings

import (
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/types"
)

type Gateway interface {
	GetListingByID(id int) (types.Listing, error)
	Listings() ([]types.Listing, error)
	MarkSold(id int) (types.Listing, error)
}

type gateway struct {
	db store.Service
}

func NewGateway(db store.Service) Gateway {
	return &gateway{db: db}
}

func (g *gateway) GetListingByID(id int) (types.Listing, error) {
	return g.db.GetListingByID(id)
}

func (g *gateway) Listings() ([]types.Listing, error) {
	return g.db.Listings()
}

func (g *gateway) MarkSold(id int) (types.Listing, error) {
	return g.db.UpdateListing(id, func(l *types.Listing) {
		l.Status = types.ListingStatusSold
	})
}
