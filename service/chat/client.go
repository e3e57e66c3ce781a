package chat

import (
	"time"

	"github.com/gorilla/websocket"

	"CRMProject/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a user session connected to the gateway.
// Outbound-only: events flow transport -> Send -> socket; inbound frames
// are ignored (sending goes through the REST surface).
// A single user may have multiple devices/connections, each maintained separately.
type Client struct {
	ConnID string          // Unique connection ID (unique within the local gateway)
	UserID string          // User ID (determined before upgrade)
	WS     *websocket.Conn // WebSocket connection object
	Send   chan []byte     // Outbound message queue (consumed by a single writer goroutine)

	done chan struct{}
}

// NewClient creates a new client connection object.
func NewClient(connID, userID string, ws *websocket.Conn, sendQueueSize int) *Client {
	return &Client{
		ConnID: connID,
		UserID: userID,
		WS:     ws,
		Send:   make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// Enqueue 非阻塞入队；队列满丢帧（慢消费者不拖垮网关）。
func (c *Client) Enqueue(frame []byte) {
	select {
	case c.Send <- frame:
	default:
		logger.Warnf("[gateway] send queue full, drop frame user=%s conn=%s", c.UserID, c.ConnID)
	}
}

// writePump 唯一写协程：Send 队列 + 心跳 ping。
// 写失败或 Send 关闭即退出并关底层连接。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.WS.Close()
	}()
	for {
		select {
		case frame, ok := <-c.Send:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.WS.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.WS.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Infof("[gateway] write err user=%s conn=%s err=%v", c.UserID, c.ConnID, err)
				return
			}
		case <-ticker.C:
			_ = c.WS.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.WS.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) stop() {
	close(c.done)
}
