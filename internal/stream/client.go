package stream

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Client pumps bus events for one user onto a websocket connection.
type Client struct {
	Sub  *Subscription
	Conn *websocket.Conn
}

// ReadPump drains the websocket connection so close frames and pongs are
// processed. Incoming payloads are ignored; clients talk to the HTTP API.
func (c *Client) ReadPump() {
	defer func() {
		c.Sub.Close()
		c.Conn.Close()
		log.Printf("WebSocket ReadPump stopped for User %s", c.Sub.UserID)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error for User %s: %v", c.Sub.UserID, err)
			}
			break
		}
	}
}

// WritePump forwards subscription events to the websocket connection and
// keeps it alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		log.Printf("WebSocket WritePump stopped for User %s", c.Sub.UserID)
	}()
	for {
		select {
		case event, ok := <-c.Sub.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, event.Payload); err != nil {
				log.Printf("WebSocket write error for User %s: %v", c.Sub.UserID, err)
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("WebSocket write error (Ping) for User %s: %v", c.Sub.UserID, err)
				return
			}
		}
	}
}
