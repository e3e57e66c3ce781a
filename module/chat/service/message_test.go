package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CRMProject/module/chat/message"
	chatmodel "CRMProject/module/chat/model"
	"CRMProject/module/user"
	usermodel "CRMProject/module/user/model"
	"CRMProject/service/blob"
	"CRMProject/service/transport"
	"CRMProject/tools/errs"
)

func newTestService(t *testing.T) (*MessagingService, *transport.Hub) {
	t.Helper()
	dir := user.NewMemDirectory(
		usermodel.User{UserID: "alice", Name: "alice", Email: "alice@crm.local", Pole: "sales"},
		usermodel.User{UserID: "bob", Name: "bob", Email: "bob@crm.local", Pole: "sales"},
		usermodel.User{UserID: "carol", Name: "carol", Email: "carol@crm.local", Pole: "ops"},
	)
	hub := transport.NewHub(transport.HubConf{SyncEvery: -1})
	t.Cleanup(func() { _ = hub.Close() })
	svc := NewMessagingService(message.NewMemDB(), dir, hub, blob.NewMemStorage(), nil, nil)
	return svc, hub
}

// eventSink 收集某频道上的事件（广播是异步的，断言用 Eventually）
type eventSink struct {
	mu     sync.Mutex
	events []transport.Event
}

func newEventSink(t *testing.T, hub *transport.Hub, channel string) *eventSink {
	t.Helper()
	s := &eventSink{}
	sub, err := hub.Subscribe(channel, func(ev transport.Event) {
		s.mu.Lock()
		s.events = append(s.events, ev)
		s.mu.Unlock()
	})
	require.NoError(t, err)
	t.Cleanup(sub.Unsubscribe)
	return s
}

func (s *eventSink) named(name string) []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transport.Event
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func TestSendPersistsAndBroadcasts(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	sink := newEventSink(t, hub, transport.ChatChannel("bob"))

	m, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "hello"})
	require.NoError(t, err)
	require.Positive(t, m.ID)
	require.Equal(t, "alice", m.SenderID)
	require.Equal(t, "bob", m.ReceiverID)
	require.Nil(t, m.ReadAt)

	require.Eventually(t, func() bool {
		return len(sink.named(chatmodel.EventMessageSent)) == 1
	}, time.Second, 5*time.Millisecond)

	var payload chatmodel.MessageSentPayload
	require.NoError(t, json.Unmarshal(sink.named(chatmodel.EventMessageSent)[0].Payload, &payload))
	require.Equal(t, m.ID, payload.Message.ID)
	require.Equal(t, "hello", payload.Message.Content)
}

func TestSendValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, "alice", SendInput{Content: "hi"})
	require.Equal(t, errs.ArgsError, errs.Code(err))

	_, err = svc.Send(ctx, "alice", SendInput{ReceiverID: "bob"})
	require.Equal(t, errs.ArgsError, errs.Code(err))

	_, err = svc.Send(ctx, "alice", SendInput{ReceiverID: "ghost", Content: "hi"})
	require.Equal(t, errs.ArgsError, errs.Code(err))
}

func TestSendWithAttachment(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, "alice", SendInput{
		ReceiverID: "bob",
		Attachment: &Attachment{
			Kind:        AttachmentImage,
			Name:        "pic.png",
			ContentType: "image/png",
			Reader:      strings.NewReader("png-bytes"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "mem://pic.png", m.ImageURL)
	require.Empty(t, m.AudioURL)
}

func TestSendClientMsgIDDedup(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "once", ClientMsgID: "cid-1"})
	require.NoError(t, err)
	again, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "once", ClientMsgID: "cid-1"})
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)

	// 不同发送者同一 client_msg_id 不互相吞
	other, err := svc.Send(ctx, "bob", SendInput{ReceiverID: "alice", Content: "mine", ClientMsgID: "cid-1"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)
}

func TestFetchConversationMarksReadAndNotifies(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	sink := newEventSink(t, hub, transport.ChatChannel("alice"))

	m1, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "one"})
	require.NoError(t, err)
	m2, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "two"})
	require.NoError(t, err)

	list, err := svc.FetchConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, m1.ID, list[0].ID)
	require.Equal(t, m2.ID, list[1].ID)
	// 返回视图已同步已读态
	require.NotNil(t, list[0].ReadAt)
	require.NotNil(t, list[1].ReadAt)

	// 回执发给对端（原发送者）频道
	require.Eventually(t, func() bool {
		return len(sink.named(chatmodel.EventMessageRead)) == 1
	}, time.Second, 5*time.Millisecond)
	var receipt chatmodel.MessageReadPayload
	require.NoError(t, json.Unmarshal(sink.named(chatmodel.EventMessageRead)[0].Payload, &receipt))
	require.Equal(t, "bob", receipt.ReaderID)
	require.ElementsMatch(t, []int64{m1.ID, m2.ID}, receipt.MessageIDs)

	// 未读清零
	n, err := svc.DB.CountUnreadFrom(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Zero(t, n)

	// 再次拉取：没有新置位，不再发回执
	_, err = svc.FetchConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.Len(t, sink.named(chatmodel.EventMessageRead), 1)
}

func TestMarkConversationReadIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	ids, err := svc.MarkConversationRead(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Equal(t, []int64{m.ID}, ids)

	ids, err = svc.MarkConversationRead(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestReadingOwnSentMessagesIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)

	// 发送者拉自己发出的会话不应吞掉接收者的未读
	_, err = svc.FetchConversation(ctx, "alice", "bob")
	require.NoError(t, err)

	n, err := svc.DB.CountUnreadFrom(ctx, "alice", "bob")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestContactsOrderingAndUnread(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// bob 先来一条，之后 carol 来一条：carol 的会话更新，排在前面
	_, err := svc.Send(ctx, "bob", SendInput{ReceiverID: "alice", Content: "from bob"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = svc.Send(ctx, "carol", SendInput{ReceiverID: "alice", Content: "from carol"})
	require.NoError(t, err)

	contacts, err := svc.Contacts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, contacts, 2) // 自己不在列表里

	require.Equal(t, "carol", contacts[0].UserID)
	require.Equal(t, "bob", contacts[1].UserID)
	require.EqualValues(t, 1, contacts[0].UnreadCount)
	require.EqualValues(t, 1, contacts[1].UnreadCount)
	require.NotNil(t, contacts[0].LastMessage)
	require.Equal(t, "from carol", contacts[0].LastMessage.Content)
}

func TestContactsNoHistoryAfterHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, "carol", SendInput{ReceiverID: "alice", Content: "hey"})
	require.NoError(t, err)

	contacts, err := svc.Contacts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	require.Equal(t, "carol", contacts[0].UserID) // 有历史
	require.Equal(t, "bob", contacts[1].UserID)   // 无历史
	require.Nil(t, contacts[1].LastMessage)
	require.Zero(t, contacts[1].UnreadCount)
}

// gatedBus 扣住 "first" 的发布直到 "second" 到达（或超时放行）：
// 若两次 Send 的广播跑在各自的 goroutine 里，这里会记录出反序。
type gatedBus struct {
	mu         sync.Mutex
	order      []string
	secondSeen chan struct{}
}

func newGatedBus() *gatedBus {
	return &gatedBus{secondSeen: make(chan struct{})}
}

func (b *gatedBus) Publish(channel, event string, payload []byte) error {
	var p chatmodel.MessageSentPayload
	_ = json.Unmarshal(payload, &p)
	if p.Message.Content == "first" {
		select {
		case <-b.secondSeen:
		case <-time.After(200 * time.Millisecond):
		}
	}
	b.mu.Lock()
	b.order = append(b.order, p.Message.Content)
	b.mu.Unlock()
	if p.Message.Content == "second" {
		close(b.secondSeen)
	}
	return nil
}

func (b *gatedBus) Subscribe(channel string, h transport.Handler) (transport.Subscription, error) {
	return nil, nil
}

func (b *gatedBus) Close() error { return nil }

func TestSequentialSendsPublishInOrder(t *testing.T) {
	dir := user.NewMemDirectory(
		usermodel.User{UserID: "alice", Name: "alice"},
		usermodel.User{UserID: "bob", Name: "bob"},
	)
	bus := newGatedBus()
	svc := NewMessagingService(message.NewMemDB(), dir, bus, blob.NewMemStorage(), nil, nil)
	ctx := context.Background()

	_, err := svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "first"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, "alice", SendInput{ReceiverID: "bob", Content: "second"})
	require.NoError(t, err)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Equal(t, []string{"first", "second"}, bus.order)
}

func TestTypingBroadcast(t *testing.T) {
	svc, hub := newTestService(t)
	ctx := context.Background()
	sink := newEventSink(t, hub, transport.ChatChannel("bob"))

	require.NoError(t, svc.Typing(ctx, "alice", "bob"))

	require.Eventually(t, func() bool {
		return len(sink.named(chatmodel.EventUserTyping)) == 1
	}, time.Second, 5*time.Millisecond)
	var payload chatmodel.UserTypingPayload
	require.NoError(t, json.Unmarshal(sink.named(chatmodel.EventUserTyping)[0].Payload, &payload))
	require.Equal(t, "alice", payload.SenderID)

	err := svc.Typing(ctx, "alice", "ghost")
	require.Equal(t, errs.ArgsError, errs.Code(err))
}
