package chat

import (
	"sync"
)

// Manager 本地连接表：connID 主索引 + userID 倒排。
// 只管本网关进程内的连接；跨节点路由交给传输层。
type Manager struct {
	mu     sync.RWMutex
	byConn map[string]*Client
	byUser map[string]map[string]*Client // userID -> connID -> client
}

func NewManager() *Manager {
	return &Manager{
		byConn: make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
	}
}

func (m *Manager) Add(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byConn[c.ConnID] = c
	conns, ok := m.byUser[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		m.byUser[c.UserID] = conns
	}
	conns[c.ConnID] = c
}

// Remove drops the connection and reports how many connections the
// user still has on this gateway.
func (m *Manager) Remove(c *Client) (remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byConn, c.ConnID)
	if conns, ok := m.byUser[c.UserID]; ok {
		delete(conns, c.ConnID)
		if len(conns) == 0 {
			delete(m.byUser, c.UserID)
		}
		return len(conns)
	}
	return 0
}

// ClientsOf returns a snapshot of the user's local connections.
func (m *Manager) ClientsOf(userID string) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conns := m.byUser[userID]
	out := make([]*Client, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}
