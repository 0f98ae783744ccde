package websocket

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/wasteloop/auction-server/pkg/errors"
)

type Message struct {
	Type string          `json:"type"` // Type of the message (e.g., "bid", "update")
	Data json.RawMessage `json:"data"` // Payload of the message
}

// ParseMessage validates and parses incoming messages.
func ParseMessage(rawMessage []byte) (*Message, error) {
	var msg Message
	err := json.Unmarshal(rawMessage, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// HandleMessage routes the message based on its type.
func (h *Hub) HandleMessage(client *Client, rawMessage []byte) {
	if !client.RateLimiter.Allow() {
		log.Warnf("Rate limit exceeded for viewer %s", client.ID)
		client.Enqueue([]byte(errors.New(errors.ErrRateLimited, "Rate limit exceeded").ToJSON()))
		return
	}

	msg, err := ParseMessage(rawMessage)
	if err != nil {
		log.Infof("Invalid message from viewer %s: %v", client.ID, err)
		client.Enqueue([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid message format").ToJSON()))
		return
	}

	switch msg.Type {
	case "join":
		log.Debugf("Viewer %s joined auction %d", client.ID, client.AuctionID)
	case "bid", "new_bid":
		h.handleBidMessage(client, msg.Data)
	case "update":
		h.sendSnapshot(client)
	default:
		log.Debugf("Unknown message type: %s", msg.Type)
		client.Enqueue([]byte(errors.New(errors.ErrUnknownMessageType, "Unknown message type").ToJSON()))
	}
}

// handleBidMessage admits a bid sent over the socket. The engine does
// the validation and broadcasts the result to the room.
func (h *Hub) handleBidMessage(client *Client, data json.RawMessage) {
	if client.UserID == 0 {
		client.Enqueue([]byte(errors.New(errors.ErrInvalidToken, "Sign in to place bids").ToJSON()))
		return
	}
	if h.engine == nil {
		client.Enqueue([]byte(errors.New(errors.ErrInternalServer, "Bidding unavailable").ToJSON()))
		return
	}

	type BidMessage struct {
		AuctionID int             `json:"auction_id"`
		Amount    decimal.Decimal `json:"amount"`
	}
	var bidMsg BidMessage
	if err := json.Unmarshal(data, &bidMsg); err != nil {
		client.Enqueue([]byte(errors.New(errors.ErrBadMessageFormat, "Invalid bid message").ToJSON()))
		return
	}
	if bidMsg.AuctionID == 0 {
		bidMsg.AuctionID = client.AuctionID
	}

	_, err := h.engine.PlaceBid(context.Background(), bidMsg.AuctionID, client.UserID, bidMsg.Amount)
	if err != nil {
		var appErr *errors.AppError
		if e, ok := err.(*errors.AppError); ok {
			appErr = e
		} else {
			log.Error("Error placing bid over websocket: ", err)
			appErr = errors.New(errors.ErrInternalServer, "Internal server error")
		}
		client.Enqueue([]byte(appErr.ToJSON()))
		return
	}
	// The engine already broadcast the new_bid event to the room,
	// including this client.
}
