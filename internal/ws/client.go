package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/goroutine"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Клиент только слушает события платежей, от него ждём лишь control-кадры.
	maxInboundSize = 512
	sendBuffer     = 16
)

// Client подписка пользователя на события платежей и заказов.
// Пропущенные события остаются в истории уведомлений, поэтому при переполнении
// буфера соединение просто закрывается.
type Client struct {
	conn   *websocket.Conn
	hub    *Hub
	userID uuid.UUID
	send   chan []byte

	connectedAt time.Time
	delivered   atomic.Int64
	closeOnce   sync.Once
}

func NewClient(conn *websocket.Conn, hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		conn:        conn,
		hub:         hub,
		userID:      userID,
		send:        make(chan []byte, sendBuffer),
		connectedAt: time.Now(),
	}
}

// Run блокируется, пока соединение живо. Отмена ctx закрывает соединение.
func (c *Client) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.Close)
	defer stop()

	goroutine.SafeGo("ws-push", c.pushEvents)
	goroutine.DefaultRecoveryHandler.Run("ws-listen", c.awaitClose)
	c.Close()
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
		c.logger().WithFields(logrus.Fields{
			"delivered": c.delivered.Load(),
			"duration":  time.Since(c.connectedAt).Round(time.Second).String(),
		}).Debug("ws subscription closed")
	})
}

func (c *Client) logger() *logrus.Entry {
	return c.hub.log.WithField("user_id", c.userID)
}

// awaitClose читает входящие кадры до ошибки. Полезной нагрузки от клиента
// нет, чтение нужно для pong и кадра закрытия.
func (c *Client) awaitClose() {
	c.conn.SetReadLimit(maxInboundSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger().WithError(err).Debug("ws subscription dropped")
			}
			return
		}
	}
}

// pushEvents отправляет события из send и пингует клиента. Закрытый send
// значит, что хаб отписал клиента.
func (c *Client) pushEvents() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				c.logger().WithError(err).WithField("pending", len(c.send)).Debug("ws push failed")
				return
			}
			c.delivered.Add(1)
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
