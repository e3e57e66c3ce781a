package natsx

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"CRMProject/logger"
	"CRMProject/service/transport"
)

// Config 客户端配置
type Config struct {
	Servers        []string
	Name           string
	SubjectPrefix  string        // 默认 "crm"
	ReconnectWait  time.Duration // 默认 500ms
	Timeout        time.Duration // 默认 3s
	PresenceTTL    time.Duration // 心跳过期（默认 45s）
	HeartbeatEvery time.Duration // 默认 15s
}

func (c *Config) norm() error {
	if len(c.Servers) == 0 {
		return errors.New("nats servers missing")
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "crm"
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 3 * time.Second
	}
	if c.PresenceTTL == 0 {
		c.PresenceTTL = 45 * time.Second
	}
	if c.HeartbeatEvery == 0 {
		c.HeartbeatEvery = 15 * time.Second
	}
	return nil
}

// envelope 普通频道事件的线格式
type envelope struct {
	Channel string          `json:"channel"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// beacon 在线频道成员信标
type beacon struct {
	Kind     string `json:"kind"` // join / leave / hb
	Channel  string `json:"channel"`
	Identity string `json:"identity"`
}

// Transport NATS 实现：频道映射 subject，单订阅回调天然保序。
// 在线成员用“信标 + 本地TTL对账”重建，跨节点无共享状态。
type Transport struct {
	cfg Config
	nc  *nats.Conn

	mu      sync.RWMutex
	members map[string]map[string]time.Time        // channel -> identity -> lastSeen
	tracked map[string]map[string]int              // channel -> identity -> 本地连接数
	msubs   map[string]map[*memberBinding]struct{} // channel -> member subscribers
	psubs   map[string]*nats.Subscription          // channel -> beacon subscription

	stopOnce sync.Once
	stopCh   chan struct{}
}

func New(cfg Config) (*Transport, error) {
	if err := cfg.norm(); err != nil {
		return nil, err
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	}
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		cfg:     cfg,
		nc:      nc,
		members: make(map[string]map[string]time.Time),
		tracked: make(map[string]map[string]int),
		msubs:   make(map[string]map[*memberBinding]struct{}),
		psubs:   make(map[string]*nats.Subscription),
		stopCh:  make(chan struct{}),
	}
	go t.reapLoop()
	return t, nil
}

// Close 优雅关闭
func (t *Transport) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	if t.nc != nil {
		return t.nc.Drain()
	}
	return nil
}

func (t *Transport) subject(channel string) string {
	return transport.SubjectOf(t.cfg.SubjectPrefix, channel)
}

func (t *Transport) presenceSubject(channel string) string {
	return transport.SubjectOf(t.cfg.SubjectPrefix+".presence", channel)
}

// ===== Transport =====

func (t *Transport) Publish(channel, event string, payload []byte) error {
	data, err := json.Marshal(envelope{Channel: channel, Name: event, Payload: payload})
	if err != nil {
		return err
	}
	return t.nc.Publish(t.subject(channel), data)
}

type natsBinding struct {
	sub *nats.Subscription
}

func (b *natsBinding) Unsubscribe() { _ = b.sub.Unsubscribe() }

func (t *Transport) Subscribe(channel string, h transport.Handler) (transport.Subscription, error) {
	sub, err := t.nc.Subscribe(t.subject(channel), func(m *nats.Msg) {
		var env envelope
		if err := json.Unmarshal(m.Data, &env); err != nil {
			logger.Warnf("[natsx] bad envelope on %s: %v", m.Subject, err)
			return
		}
		h(transport.Event{Channel: env.Channel, Name: env.Name, Payload: env.Payload})
	})
	if err != nil {
		return nil, err
	}
	return &natsBinding{sub: sub}, nil
}

// ===== Presence =====

func (t *Transport) Track(channel, identity string) (func(), error) {
	if err := t.ensureBeaconSub(channel); err != nil {
		return nil, err
	}
	if err := t.sendBeacon(beacon{Kind: "join", Channel: channel, Identity: identity}); err != nil {
		return nil, err
	}
	t.mu.Lock()
	if t.tracked[channel] == nil {
		t.tracked[channel] = make(map[string]int)
	}
	t.tracked[channel][identity]++
	t.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		tick := time.NewTicker(t.cfg.HeartbeatEvery)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.stopCh:
				return
			case <-tick.C:
				_ = t.sendBeacon(beacon{Kind: "hb", Channel: channel, Identity: identity})
			}
		}
	}()

	var once sync.Once
	untrack := func() {
		once.Do(func() {
			close(stop)
			// 同一身份多条本地连接：最后一条断开才发 leave
			t.mu.Lock()
			last := false
			if m := t.tracked[channel]; m != nil {
				m[identity]--
				if m[identity] <= 0 {
					delete(m, identity)
					last = true
				}
				if len(m) == 0 {
					delete(t.tracked, channel)
				}
			}
			t.mu.Unlock()
			if !last {
				return
			}
			// 尽力而为的显式退出；丢了靠TTL过期兜底
			if err := t.sendBeacon(beacon{Kind: "leave", Channel: channel, Identity: identity}); err != nil {
				logger.Warnf("[natsx] leave beacon failed for %s on %s: %v", identity, channel, err)
			}
		})
	}
	return untrack, nil
}

type memberBinding struct {
	t       *Transport
	channel string
	ch      chan transport.MemberEvent
	once    sync.Once
}

func (b *memberBinding) Unsubscribe() {
	t := b.t
	t.mu.Lock()
	if set := t.msubs[b.channel]; set != nil {
		delete(set, b)
		if len(set) == 0 {
			delete(t.msubs, b.channel)
		}
	}
	t.mu.Unlock()
	b.once.Do(func() { close(b.ch) })
}

func (b *memberBinding) trySend(ev transport.MemberEvent) {
	defer func() { recover() }()
	select {
	case b.ch <- ev:
	default:
	}
}

func (t *Transport) SubscribeMembers(channel string, h func(transport.MemberEvent)) (transport.Subscription, error) {
	if err := t.ensureBeaconSub(channel); err != nil {
		return nil, err
	}
	b := &memberBinding{t: t, channel: channel, ch: make(chan transport.MemberEvent, 64)}
	t.mu.Lock()
	if t.msubs[channel] == nil {
		t.msubs[channel] = make(map[*memberBinding]struct{})
	}
	t.msubs[channel][b] = struct{}{}
	t.mu.Unlock()

	go func() {
		for ev := range b.ch {
			h(ev)
		}
	}()

	b.trySend(transport.MemberEvent{Kind: transport.MemberSync, Members: t.snapshot(channel)})
	return b, nil
}

func (t *Transport) sendBeacon(bc beacon) error {
	data, err := json.Marshal(bc)
	if err != nil {
		return err
	}
	return t.nc.Publish(t.presenceSubject(bc.Channel), data)
}

// ensureBeaconSub 懒订阅在线信标（每频道一份）
func (t *Transport) ensureBeaconSub(channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.psubs[channel]; ok {
		return nil
	}
	sub, err := t.nc.Subscribe(t.presenceSubject(channel), func(m *nats.Msg) {
		var bc beacon
		if err := json.Unmarshal(m.Data, &bc); err != nil {
			return
		}
		t.applyBeacon(bc)
	})
	if err != nil {
		return err
	}
	t.psubs[channel] = sub
	return nil
}

func (t *Transport) applyBeacon(bc beacon) {
	now := time.Now()
	t.mu.Lock()
	m := t.members[bc.Channel]
	if m == nil {
		m = make(map[string]time.Time)
		t.members[bc.Channel] = m
	}
	var joined, left bool
	switch bc.Kind {
	case "join", "hb":
		_, known := m[bc.Identity]
		m[bc.Identity] = now
		joined = !known
	case "leave":
		if _, known := m[bc.Identity]; known {
			delete(m, bc.Identity)
			left = true
		}
	}
	t.mu.Unlock()

	if joined {
		t.emit(bc.Channel, transport.MemberEvent{Kind: transport.MemberJoin, Identity: bc.Identity})
		t.emitSync(bc.Channel)
	}
	if left {
		t.emit(bc.Channel, transport.MemberEvent{Kind: transport.MemberLeave, Identity: bc.Identity})
		t.emitSync(bc.Channel)
	}
}

func (t *Transport) snapshot(channel string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m := t.members[channel]
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

func (t *Transport) emit(channel string, ev transport.MemberEvent) {
	t.mu.RLock()
	subs := make([]*memberBinding, 0, len(t.msubs[channel]))
	for b := range t.msubs[channel] {
		subs = append(subs, b)
	}
	t.mu.RUnlock()
	for _, b := range subs {
		b.trySend(ev)
	}
}

func (t *Transport) emitSync(channel string) {
	snap := t.snapshot(channel)
	t.mu.RLock()
	subs := make([]*memberBinding, 0, len(t.msubs[channel]))
	for b := range t.msubs[channel] {
		subs = append(subs, b)
	}
	t.mu.RUnlock()
	for _, b := range subs {
		b.trySend(transport.MemberEvent{Kind: transport.MemberSync, Members: snap})
	}
}

// reapLoop 过期成员清理：心跳超时视作离线
func (t *Transport) reapLoop() {
	tick := time.NewTicker(t.cfg.PresenceTTL / 3)
	defer tick.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-tick.C:
			cutoff := time.Now().Add(-t.cfg.PresenceTTL)
			var expired []beacon
			t.mu.Lock()
			for ch, m := range t.members {
				for id, seen := range m {
					if seen.Before(cutoff) {
						delete(m, id)
						expired = append(expired, beacon{Channel: ch, Identity: id})
					}
				}
			}
			t.mu.Unlock()
			for _, e := range expired {
				t.emit(e.Channel, transport.MemberEvent{Kind: transport.MemberLeave, Identity: e.Identity})
				t.emitSync(e.Channel)
			}
		}
	}
}
