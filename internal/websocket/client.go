package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/model"
)

const (
	sendBufferSize = 16
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is one websocket connection belonging to a church.
type Client struct {
	hub      *Hub
	conn     *ws.Conn
	send     chan []byte
	churchID int64
	branchID int64
	userID   int64
	role     string
}

func NewClient(hub *Hub, conn *ws.Conn, claims *auth.Claims) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		churchID: claims.ChurchID,
		branchID: claims.BranchID,
		userID:   claims.UserID,
		role:     claims.Role,
	}
}

// hears reports whether the client is in the audience of a message scoped
// to branchID. Church-wide messages (nil) reach everyone; church admins
// hear every branch.
func (c *Client) hears(branchID *int64) bool {
	if branchID == nil || c.role == model.RoleAdmin {
		return true
	}
	return c.branchID == *branchID
}

// Run registers the client and blocks until the connection closes.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readPump(ctx)
}

// readPump discards inbound frames; the feed is server to client only.
func (c *Client) readPump(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
