package gateway

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"finverse/internal/feed"
	"finverse/internal/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMsgSize = 4096

	sendBuffer = 256
)

// clientMsg is the inbound control message from a chart client.
type clientMsg struct {
	Type string `json:"type"` // "subscribe" | "unsubscribe"
	Key  string `json:"key"`
}

// Client is a single connected chart consumer.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	subMu sync.RWMutex
	subs  map[string]struct{} // canonical keys
}

// NewClient wraps an upgraded websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, sendBuffer),
		subs: make(map[string]struct{}),
	}
}

// addKey records interest in a canonical key; true if it was new.
func (c *Client) addKey(key string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[key]; ok {
		return false
	}
	c.subs[key] = struct{}{}
	return true
}

// removeKey drops interest in a canonical key; true if it was held.
func (c *Client) removeKey(key string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[key]; !ok {
		return false
	}
	delete(c.subs, key)
	return true
}

// heldKeys returns the canonical keys this client still holds.
func (c *Client) heldKeys() []string {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	keys := make([]string, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	return keys
}

// sendFiltered forwards the subset of env this client subscribed to.
// A full send buffer drops the frame rather than stalling the feed path.
func (c *Client) sendFiltered(env *feed.Envelope) {
	c.subMu.RLock()
	var matched map[string]feed.FeedEntry
	for rawKey, entry := range env.Feeds {
		if _, ok := c.subs[model.NormalizeKey(rawKey)]; ok {
			if matched == nil {
				matched = make(map[string]feed.FeedEntry, len(env.Feeds))
			}
			matched[model.NormalizeKey(rawKey)] = entry
		}
	}
	c.subMu.RUnlock()

	if matched == nil {
		return
	}

	out, err := json.Marshal(feed.Envelope{
		Type:      env.Type,
		CurrentTS: env.CurrentTS,
		Feeds:     matched,
	})
	if err != nil {
		return
	}
	select {
	case c.send <- out:
	default:
		log.Println("[gateway] client send buffer full, dropping frame")
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var m clientMsg
		if json.Unmarshal(msg, &m) != nil || m.Key == "" {
			continue
		}
		switch m.Type {
		case "subscribe":
			c.hub.subscribe(c, m.Key)
		case "unsubscribe":
			c.hub.unsubscribe(c, m.Key)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
