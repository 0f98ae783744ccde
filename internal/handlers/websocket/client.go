package websocket

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

type Client struct {
	ID        string // connection id, unique per socket
	UserID    int    // zero for anonymous viewers
	Email     string
	AuctionID int

	Conn         *websocket.Conn
	Send         chan []byte   // Channel for outgoing messages
	RateLimiter  *rate.Limiter // Rate limiter to prevent spamming
	PingInterval time.Duration

	closed bool
	mu     sync.Mutex
}

// ReadMessages listens for incoming messages until the peer goes away,
// then removes the client from its room. Pongs extend the read deadline
// so an idle but live viewer is not cut off.
func (c *Client) ReadMessages(handleMessage func(*Client, []byte), done func(*Client)) {
	defer func() {
		done(c)
		log.Debugf("Connection closed for viewer %s", c.ID)
	}()

	pongWait := c.PingInterval * 10 / 9
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			log.Debugf("Error reading message from viewer %s: %v", c.ID, err)
			break
		}
		handleMessage(c, message)
	}
}

// WriteMessages drains the send channel onto the wire, pinging the peer
// between messages to keep the connection alive.
func (c *Client) WriteMessages() {
	ticker := time.NewTicker(c.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debugf("Error sending message to viewer %s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Enqueue offers a payload to the client without ever blocking the
// caller. It reports false when the viewer is gone or its queue is
// full. The mutex orders Enqueue against Disconnect closing the
// channel.
func (c *Client) Enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- payload:
		return true
	default:
		return false
	}
}

// Disconnect cleans up client resources. Safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
	c.mu.Unlock()

	if c.Conn != nil {
		c.Conn.Close()
	}
}
