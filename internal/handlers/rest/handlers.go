// Package rest exposes the auction core over HTTP. Paths and status
// codes mirror the marketplace API consumed by the frontend.
package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/wasteloop/auction-server/internal/auction"
	"github.com/wasteloop/auction-server/internal/auth"
	"github.com/wasteloop/auction-server/internal/store"
	"github.com/wasteloop/auction-server/pkg/errors"
	"github.com/wasteloop/auction-server/pkg/types"
)

type Handler struct {
	db      store.Service
	manager *auction.Manager
	engine  *auction.Engine
}

func NewHandler(db store.Service, manager *auction.Manager, engine *auction.Engine) *Handler {
	return &Handler{db: db, manager: manager, engine: engine}
}

// Routes mounts the auction API onto the router.
func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api/auctions").Subrouter()
	api.HandleFunc("/active", h.getActiveAuctions).Methods(http.MethodGet)
	api.HandleFunc("/{auction_id:[0-9]+}/bid", h.requireUser(h.placeBid)).Methods(http.MethodPost)
	api.HandleFunc("/{auction_id:[0-9]+}/bids", h.getAuctionBids).Methods(http.MethodGet)
	api.HandleFunc("/{listing_id:[0-9]+}/create-auction", h.requireUser(h.createAuction)).Methods(http.MethodPost)
	api.HandleFunc("/{auction_id:[0-9]+}/end", h.requireUser(h.endAuction)).Methods(http.MethodPost)
	api.HandleFunc("/{listing_id:[0-9]+}", h.getAuctionForListing).Methods(http.MethodGet)
	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.db.Health())
}

func (h *Handler) getActiveAuctions(w http.ResponseWriter, r *http.Request) {
	skip := intQuery(r, "skip", 0)
	limit := intQuery(r, "limit", 100)

	auctions, err := h.manager.ActiveAuctions(skip, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auctions)
}

func (h *Handler) getAuctionForListing(w http.ResponseWriter, r *http.Request) {
	listingID, _ := strconv.Atoi(mux.Vars(r)["listing_id"])
	a, err := h.manager.ForListing(listingID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request, user types.User) {
	auctionID, _ := strconv.Atoi(mux.Vars(r)["auction_id"])

	var body struct {
		Amount    decimal.Decimal `json:"amount"`
		AuctionID int             `json:"auction_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.New(errors.ErrBadMessageFormat, "Invalid request body"))
		return
	}

	bid, err := h.engine.PlaceBid(r.Context(), auctionID, user.ID, body.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (h *Handler) getAuctionBids(w http.ResponseWriter, r *http.Request) {
	auctionID, _ := strconv.Atoi(mux.Vars(r)["auction_id"])
	bids, err := h.engine.Bids(auctionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) createAuction(w http.ResponseWriter, r *http.Request, user types.User) {
	listingID, _ := strconv.Atoi(mux.Vars(r)["listing_id"])

	var body struct {
		StartingBid   decimal.Decimal `json:"starting_bid"`
		DurationHours int             `json:"duration_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.New(errors.ErrBadMessageFormat, "Invalid request body"))
		return
	}

	created, err := h.manager.CreateAuction(listingID, user, body.StartingBid,
		time.Duration(body.DurationHours)*time.Hour)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) endAuction(w http.ResponseWriter, r *http.Request, user types.User) {
	auctionID, _ := strconv.Atoi(mux.Vars(r)["auction_id"])
	closed, err := h.engine.Close(auctionID, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

// requireUser resolves the caller's identity before the handler runs.
func (h *Handler) requireUser(next func(http.ResponseWriter, *http.Request, types.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ValidateToken(r)
		if err != nil || token == nil {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		var email string
		if err := token.Get("email", &email); err != nil {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		user, err := h.db.GetUserByEmail(email)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "User not found")
			return
		}
		next(w, r, user)
	}
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("Error encoding response: ", err)
	}
}

// writeDetail matches the {"detail": ...} error shape the frontend
// already parses.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeError(w http.ResponseWriter, err error) {
	var appErr *errors.AppError
	if e, ok := err.(*errors.AppError); ok {
		appErr = e
	} else {
		log.Error("Unhandled error: ", err)
		writeDetail(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case errors.ErrAuctionNotFound, errors.ErrListingNotFound:
		status = http.StatusNotFound
	case errors.ErrBidTooLow, errors.ErrSelfBid, errors.ErrAuctionClosed,
		errors.ErrAuctionExists, errors.ErrBadMessageFormat:
		status = http.StatusBadRequest
	case errors.ErrForbidden:
		status = http.StatusForbidden
	case errors.ErrInvalidToken, http.StatusUnauthorized:
		status = http.StatusUnauthorized
	default:
		log.Error("Storage or internal error: ", appErr)
	}
	writeDetail(w, status, appErr.Message)
}
