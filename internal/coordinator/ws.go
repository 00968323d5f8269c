package coordinator

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Браузерные клиенты ходят с того же origin; API-клиенты шлют ключ
		return true
	},
}

// Client is one live websocket connection.
type Client struct {
	coordinator *Coordinator
	conn        *websocket.Conn
	send        chan []byte
	name        string
}

// ServeWS upgrades the request and registers the connection with the
// coordinator loop.
func (c *Coordinator) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := &Client{
		coordinator: c,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		name:        r.URL.Query().Get("name"),
	}

	c.register <- client

	go client.writePump()
	go client.readPump()
}

func (cl *Client) readPump() {
	defer func() {
		cl.coordinator.unregister <- cl
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				cl.coordinator.logger.Debug().Err(err).Msg("Websocket read error")
			}
			break
		}

		// Frames are fire-and-forget from the socket side: a rejected
		// mutation is logged by the loop and simply not echoed back.
		cl.coordinator.inbound <- frame{data: message, source: cl}
	}
}

func (cl *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
