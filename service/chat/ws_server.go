package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	midsec "CRMProject/middleware/security"
	"CRMProject/service/storage"
	"CRMProject/service/transport"
	"CRMProject/tools/errs"
	"CRMProject/tools/ids"
	"CRMProject/tools/safe"

	"CRMProject/logger"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

// Conf 网关参数。
type Conf struct {
	SendQueue   int           // 每连接发送队列长度
	PresenceTTL time.Duration // redis 在线键续期周期的基准
}

func (c *Conf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PresenceTTL <= 0 {
		c.PresenceTTL = 60 * time.Second
	}
}

// Gateway 实时下行网关：REST 写入后事件经传输层到达这里，
// 再按用户频道推到各自的 WebSocket 连接。
type Gateway struct {
	Auth     midsec.Resolver
	Bus      transport.PresenceTransport
	Presence *storage.Presence // 可为空（无 redis 时跳过旁路登记）
	Mgr      *Manager
	Conf     Conf
}

func NewGateway(auth midsec.Resolver, bus transport.PresenceTransport, presence *storage.Presence, conf Conf) *Gateway {
	conf.norm()
	return &Gateway{
		Auth:     auth,
		Bus:      bus,
		Presence: presence,
		Mgr:      NewManager(),
		Conf:     conf,
	}
}

// frame 下行帧：{"event": ..., "data": ...}
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleWS GET /ws?token=
// 升级前先认证：握手失败方便前端直接拿到 401。
func (g *Gateway) HandleWS(c *gin.Context) {
	token := midsec.TokenFrom(c, &midsec.Options{
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
		AllowQueryToken:           true,
	})
	if token == "" {
		e := errs.ErrUnauthenticated.WithDetail("missing credential")
		c.AbortWithStatusJSON(errs.HTTPStatus(e.Code), e)
		return
	}
	p, err := g.Auth.Resolve(c.Request.Context(), token)
	if err != nil {
		e := errs.ErrUnauthenticated.WithDetail("invalid credential")
		c.AbortWithStatusJSON(errs.HTTPStatus(e.Code), e)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Infof("[gateway] upgrade websocket error: %v", err)
		return
	}

	cl := NewClient(ids.GenerateString(), p.ID, ws, g.Conf.SendQueue)
	g.Mgr.Add(cl)
	logger.Infof("[gateway] connected user=%s conn=%s total=%d", cl.UserID, cl.ConnID, g.Mgr.Len())

	// 本用户频道：把传输层事件原样透传下行
	sub, err := g.Bus.Subscribe(transport.ChatChannel(cl.UserID), func(ev transport.Event) {
		f, merr := json.Marshal(frame{Event: ev.Name, Data: ev.Payload})
		if merr != nil {
			logger.Errorf("[gateway] marshal frame err user=%s: %v", cl.UserID, merr)
			return
		}
		cl.Enqueue(f)
	})
	if err != nil {
		logger.Errorf("[gateway] subscribe err user=%s: %v", cl.UserID, err)
		g.Mgr.Remove(cl)
		_ = ws.Close()
		return
	}

	// 在线宣告：传输层 presence 是权威，redis 是旁路视图
	untrack, err := g.Bus.Track(transport.OnlineUsersChannel, cl.UserID)
	if err != nil {
		logger.Errorf("[gateway] track err user=%s: %v", cl.UserID, err)
		sub.Unsubscribe()
		g.Mgr.Remove(cl)
		_ = ws.Close()
		return
	}

	stopRefresh := g.startPresenceRefresh(cl)

	safe.Go(cl.writePump)
	g.readLoop(cl)

	// ---- 退出阶段 ----
	stopRefresh()
	untrack()
	sub.Unsubscribe()
	cl.stop()
	remaining := g.Mgr.Remove(cl)
	if remaining == 0 && g.Presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.Presence.Offline(ctx, cl.UserID); err != nil {
			logger.Warnf("[gateway] redis offline err user=%s: %v", cl.UserID, err)
		}
	}
	logger.Infof("[gateway] disconnected user=%s conn=%s remaining=%d", cl.UserID, cl.ConnID, remaining)
}

// readLoop 只读不写：维持 pong 续期，读错即退出（写协程收尾）。
// 入站业务帧忽略，发送消息走 REST。
func (g *Gateway) readLoop(cl *Client) {
	_ = cl.WS.SetReadDeadline(time.Now().Add(pongWait))
	cl.WS.SetPongHandler(func(string) error {
		return cl.WS.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.WS.ReadMessage(); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[gateway] peer closed user=%s conn=%s", cl.UserID, cl.ConnID)
			} else {
				logger.Infof("[gateway] read err user=%s conn=%s err=%v", cl.UserID, cl.ConnID, err)
			}
			return
		}
	}
}

// startPresenceRefresh 周期续期 redis 在线键；返回停止函数。
func (g *Gateway) startPresenceRefresh(cl *Client) func() {
	if g.Presence == nil {
		return func() {}
	}
	refresh := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := g.Presence.Online(ctx, cl.UserID, cl.ConnID); err != nil {
			logger.Warnf("[gateway] redis online err user=%s: %v", cl.UserID, err)
		}
	}
	refresh()

	every := g.Conf.PresenceTTL / 3
	if every < time.Second {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	safe.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				refresh()
			case <-stop:
				return
			}
		}
	})
	return func() { close(stop) }
}
