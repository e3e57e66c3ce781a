package notify

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	chatmodel "CRMProject/module/chat/model"
	notifmodel "CRMProject/module/notify/model"
	"CRMProject/module/user"
	usermodel "CRMProject/module/user/model"
	"CRMProject/service/transport"
	"CRMProject/tools/decode"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *memDB, *transport.Hub) {
	t.Helper()
	dir := user.NewMemDirectory(
		usermodel.User{UserID: "u-dave", Name: "dave", Pole: "ops"},
		usermodel.User{UserID: "u-alice", Name: "alice", Pole: "sales"},
		usermodel.User{UserID: "u-bob", Name: "bob", Pole: "bob_team"},
		usermodel.User{UserID: "u-carol", Name: "carol", Pole: "support"},
	)
	hub := transport.NewHub(transport.HubConf{SyncEvery: -1})
	t.Cleanup(func() { _ = hub.Close() })
	db := NewMemDB()
	return NewDispatcher(db, dir, hub), db, hub
}

func recipients(list []notifmodel.Notification) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.UserID)
	}
	return out
}

func TestDispatchResolvesNameAndPole(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	created := d.Dispatch(context.Background(), "u-dave", "dave",
		"Ping @alice and @bob_team, see client", ContentRef{Kind: RefClient, ID: "c-9"})

	require.ElementsMatch(t, []string{"u-alice", "u-bob"}, recipients(created))
	for _, n := range created {
		require.Equal(t, notifmodel.TypeMention, n.Type)
		require.Equal(t, "/clients/c-9", n.Link)
		require.Nil(t, n.ReadAt)

		data, err := decode.DecodeMap[notifmodel.MentionData](n.Data)
		require.NoError(t, err)
		require.Equal(t, "dave", data.MentionedBy)
		require.Equal(t, "Ping @alice and @bob_team, see client", data.Text)
	}
}

func TestDispatchNeverNotifiesAuthor(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	created := d.Dispatch(context.Background(), "u-dave", "dave",
		"note to self: @dave and @alice", ContentRef{})
	require.Equal(t, []string{"u-alice"}, recipients(created))
}

func TestDispatchDedupesRecipients(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	// 名字和团队双重命中同一个人：只发一条
	created := d.Dispatch(context.Background(), "u-dave", "dave",
		"@bob @bob_team", ContentRef{})
	require.Equal(t, []string{"u-bob"}, recipients(created))
}

func TestDispatchUnknownTokensProduceNothing(t *testing.T) {
	d, db, _ := newTestDispatcher(t)

	created := d.Dispatch(context.Background(), "u-dave", "dave",
		"hello @nobody @also_nobody", ContentRef{})
	require.Empty(t, created)

	list, err := db.ListForUser(context.Background(), "u-alice", 10)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestDispatchExcerptTruncation(t *testing.T) {
	d, _, _ := newTestDispatcher(t)

	long := "@alice " + strings.Repeat("x", 200)
	created := d.Dispatch(context.Background(), "u-dave", "dave", long, ContentRef{})
	require.Len(t, created, 1)

	data, err := decode.DecodeMap[notifmodel.MentionData](created[0].Data)
	require.NoError(t, err)
	require.Equal(t, long[:100]+"...", data.Text)
}

func TestDispatchDefaultAndProspectLinks(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	created := d.Dispatch(ctx, "u-dave", "dave", "@alice", ContentRef{})
	require.Len(t, created, 1)
	require.Equal(t, "/", created[0].Link)

	created = d.Dispatch(ctx, "u-dave", "dave", "@alice", ContentRef{Kind: RefProspect, ID: "p-3"})
	require.Len(t, created, 1)
	require.Equal(t, "/prospects/p-3", created[0].Link)
}

func TestDispatchFansOutNotificationEvent(t *testing.T) {
	d, _, hub := newTestDispatcher(t)

	var mu sync.Mutex
	var events []transport.Event
	sub, err := hub.Subscribe(transport.ChatChannel("u-alice"), func(ev transport.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	created := d.Dispatch(context.Background(), "u-dave", "dave", "@alice", ContentRef{})
	require.Len(t, created, 1)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, chatmodel.EventNotification, events[0].Name)
	var payload struct {
		Notification notifmodel.Notification `json:"notification"`
	}
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	require.Equal(t, created[0].ID, payload.Notification.ID)
}
