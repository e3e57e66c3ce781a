package transport

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHubPublishNoSubscribers(t *testing.T) {
	h := NewHub(HubConf{})
	defer h.Close()

	// 零订阅者：空操作，不报错
	require.NoError(t, h.Publish("chat:nobody", "MessageSent", []byte(`{}`)))
}

func TestHubOrderPreservedPerChannel(t *testing.T) {
	h := NewHub(HubConf{QueueSize: 1024})
	defer h.Close()

	const n = 200
	var mu sync.Mutex
	var got []string

	sub, err := h.Subscribe("chat:u1", func(ev Event) {
		mu.Lock()
		got = append(got, string(ev.Payload))
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	for i := 0; i < n; i++ {
		require.NoError(t, h.Publish("chat:u1", "MessageSent", []byte(fmt.Sprintf("%d", i))))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("%d", i), got[i])
	}
}

func TestHubSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := NewHub(HubConf{QueueSize: 1})
	defer h.Close()

	block := make(chan struct{})
	slow, err := h.Subscribe("chat:u1", func(ev Event) {
		<-block // 第一条就卡死，队列很快打满
	})
	require.NoError(t, err)
	defer slow.Unsubscribe()

	var mu sync.Mutex
	var fastGot int
	fast, err := h.Subscribe("chat:u1", func(ev Event) {
		mu.Lock()
		fastGot++
		mu.Unlock()
	})
	require.NoError(t, err)
	defer fast.Unsubscribe()

	const n = 50
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			_ = h.Publish("chat:u1", "MessageSent", []byte(`{}`))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked by slow subscriber")
	}

	// 队列只有1：快订阅者也可能丢帧，但必须持续收到投递
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastGot > 0
	}, 2*time.Second, 5*time.Millisecond)

	close(block)
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub(HubConf{})
	defer h.Close()

	var mu sync.Mutex
	var got int
	sub, err := h.Subscribe("chat:u1", func(ev Event) {
		mu.Lock()
		got++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, h.Publish("chat:u1", "MessageSent", nil))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got == 1
	}, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	sub.Unsubscribe() // 重复退订安全

	require.NoError(t, h.Publish("chat:u1", "MessageSent", nil))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, got)
}

func TestHubPresenceCollapseMultipleConnections(t *testing.T) {
	h := NewHub(HubConf{SyncEvery: -1})
	defer h.Close()

	var mu sync.Mutex
	var joins, leaves []string
	sub, err := h.SubscribeMembers(OnlineUsersChannel, func(ev MemberEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Kind {
		case MemberJoin:
			joins = append(joins, ev.Identity)
		case MemberLeave:
			leaves = append(leaves, ev.Identity)
		}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// 同一身份两条连接：join/leave 各只一次
	un1, err := h.Track(OnlineUsersChannel, "u1")
	require.NoError(t, err)
	un2, err := h.Track(OnlineUsersChannel, "u1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(joins) == 1
	}, time.Second, 5*time.Millisecond)

	un1()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Empty(t, leaves, "first disconnect must not emit leave")
	mu.Unlock()

	un2()
	un2() // 幂等
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(leaves) == 1 && leaves[0] == "u1"
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"u1"}, joins)
}

func TestTrackerFollowsSyncSnapshots(t *testing.T) {
	h := NewHub(HubConf{SyncEvery: -1})
	defer h.Close()

	tr, err := NewTracker(h, OnlineUsersChannel)
	require.NoError(t, err)
	defer tr.Close()

	require.Empty(t, tr.OnlineUsers())

	unA, err := h.Track(OnlineUsersChannel, "alice")
	require.NoError(t, err)
	unB, err := h.Track(OnlineUsersChannel, "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tr.IsOnline("alice") && tr.IsOnline("bob")
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"alice", "bob"}, tr.OnlineUsers())

	unA()
	require.Eventually(t, func() bool {
		return !tr.IsOnline("alice") && tr.IsOnline("bob")
	}, time.Second, 5*time.Millisecond)

	unB()
	require.Eventually(t, func() bool {
		return len(tr.OnlineUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTrackerLateSubscriberSeesExistingMembers(t *testing.T) {
	h := NewHub(HubConf{SyncEvery: -1})
	defer h.Close()

	un, err := h.Track(OnlineUsersChannel, "early")
	require.NoError(t, err)
	defer un()

	// track 之后才建 tracker：靠订阅时的全量快照补齐
	tr, err := NewTracker(h, OnlineUsersChannel)
	require.NoError(t, err)
	defer tr.Close()

	require.Eventually(t, func() bool {
		return tr.IsOnline("early")
	}, time.Second, 5*time.Millisecond)
}
