package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	notifmodel "CRMProject/module/notify/model"
	"CRMProject/tools/errs"
)

func seedNotifications(t *testing.T, db *memDB) (mine, theirs notifmodel.Notification) {
	t.Helper()
	ctx := context.Background()
	m, err := db.Create(ctx, "u-alice", notifmodel.TypeMention, map[string]any{"text": "hi"}, "/")
	require.NoError(t, err)
	o, err := db.Create(ctx, "u-bob", notifmodel.TypeMention, map[string]any{"text": "yo"}, "/")
	require.NoError(t, err)
	return *m, *o
}

func TestListForUserMostRecentFirstWithLimit(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		n, err := db.Create(ctx, "u-alice", notifmodel.TypeMention, nil, "/")
		require.NoError(t, err)
		ids = append(ids, n.ID)
		time.Sleep(2 * time.Millisecond)
	}

	list, err := db.ListForUser(ctx, "u-alice", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, ids[2], list[0].ID)
	require.Equal(t, ids[1], list[1].ID)
}

func TestMarkOneReadOwnership(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	mine, theirs := seedNotifications(t, db)

	// 不存在 → NotFound
	err := db.MarkOneRead(ctx, "missing", "u-alice")
	require.Equal(t, errs.RecordNotFoundError, errs.Code(err))

	// 别人的 → Forbidden，且不落置位
	err = db.MarkOneRead(ctx, theirs.ID, "u-alice")
	require.Equal(t, errs.NoPermissionError, errs.Code(err))
	list, err := db.ListForUser(ctx, "u-bob", 10)
	require.NoError(t, err)
	require.Nil(t, list[0].ReadAt)

	// 自己的：置位，重复置位是空操作且时间不回拨
	require.NoError(t, db.MarkOneRead(ctx, mine.ID, "u-alice"))
	list, err = db.ListForUser(ctx, "u-alice", 10)
	require.NoError(t, err)
	require.NotNil(t, list[0].ReadAt)
	firstRead := *list[0].ReadAt

	time.Sleep(2 * time.Millisecond)
	require.NoError(t, db.MarkOneRead(ctx, mine.ID, "u-alice"))
	list, err = db.ListForUser(ctx, "u-alice", 10)
	require.NoError(t, err)
	require.True(t, list[0].ReadAt.Equal(firstRead))
}

func TestMarkAllReadTouchesOnlyOwnUnread(t *testing.T) {
	db := NewMemDB()
	ctx := context.Background()
	mine, theirs := seedNotifications(t, db)
	_ = mine

	n, err := db.MarkAllRead(ctx, "u-alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// 再跑一遍：没有未读，计数为0
	n, err = db.MarkAllRead(ctx, "u-alice")
	require.NoError(t, err)
	require.Zero(t, n)

	// 别人的不动
	list, err := db.ListForUser(ctx, "u-bob", 10)
	require.NoError(t, err)
	require.Equal(t, theirs.ID, list[0].ID)
	require.Nil(t, list[0].ReadAt)
}
