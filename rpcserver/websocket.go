package rpcserver

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsClient serves JSON-RPC on a single WebSocket connection. Each message is
// a request or a batch, requests are executed concurrently and every reply is
// written as one text message.
type wsClient struct {
	server *Server
	conn   *websocket.Conn

	// writeMtx serializes writes, gorilla connections support a single
	// concurrent writer.
	writeMtx sync.Mutex

	wg   sync.WaitGroup
	quit chan struct{}
}

func newWSClient(server *Server, conn *websocket.Conn) *wsClient {
	return &wsClient{
		server: server,
		conn:   conn,
		quit:   make(chan struct{}),
	}
}

// serve reads requests until the connection fails or the server stops.
func (c *wsClient) serve() {
	ctx, cancel := context.WithCancel(context.Background())

	c.conn.SetReadLimit(c.server.cfg.MaxRequestSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	c.wg.Add(1)
	go c.keepAlive()

	defer func() {
		close(c.quit)
		cancel()
		_ = c.conn.Close()
		c.wg.Wait()
	}()

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) {

				log.Debugf("WebSocket read failed: %v", err)
			}

			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		if err := c.server.limiter.Wait(ctx); err != nil {
			return
		}

		c.wg.Add(1)
		go func() {
			defer c.wg.Done()

			resp := c.server.ProcessMessage(ctx, msg)
			if resp == nil {
				return
			}

			if err := c.write(websocket.TextMessage, resp); err != nil {
				log.Debugf("WebSocket write failed: %v", err)
			}
		}()
	}
}

// keepAlive pings the peer and closes the connection when the server stops.
func (c *wsClient) keepAlive() {
	defer c.wg.Done()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.server.quit:
			_ = c.write(websocket.CloseMessage,
				websocket.FormatCloseMessage(
					websocket.CloseGoingAway, "server stopping",
				),
			)
			_ = c.conn.Close()

			return

		case <-c.quit:
			return
		}
	}
}

func (c *wsClient) write(msgType int, data []byte) error {
	c.writeMtx.Lock()
	defer c.writeMtx.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))

	return c.conn.WriteMessage(msgType, data)
}
