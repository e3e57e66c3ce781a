package message

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	chatmodel "CRMProject/module/chat/model"
)

func findIndexOn(t *testing.T, models []mongo.IndexModel, field string) *mongo.IndexModel {
	t.Helper()
	for i := range models {
		keys, ok := models[i].Keys.(bson.D)
		require.True(t, ok)
		for _, k := range keys {
			if k.Key == field {
				return &models[i]
			}
		}
	}
	return nil
}

// 无 client_msg_id 的消息（字段整个不落盘，bson omitempty）绝不能进
// 幂等唯一索引：sparse 复合索引做不到这点（sender_id 总在，裸消息会
// 全部变成 (sender, null) 键），必须是 $exists 的部分索引。
func TestDedupIndexExcludesKeylessMessages(t *testing.T) {
	models := indexModels()

	dedup := findIndexOn(t, models, chatmodel.MsgFieldClientMsgID)
	require.NotNil(t, dedup)
	require.NotNil(t, dedup.Options)

	require.NotNil(t, dedup.Options.Unique)
	require.True(t, *dedup.Options.Unique)
	require.Nil(t, dedup.Options.Sparse)

	pfe, ok := dedup.Options.PartialFilterExpression.(bson.M)
	require.True(t, ok, "dedup index must carry a partial filter expression")
	require.Equal(t, bson.M{"$exists": true}, pfe[chatmodel.MsgFieldClientMsgID])
}

// 裸消息的 bson 编码必须省略 client_msg_id 字段本身，否则部分索引
// 又会把空串键收进来。
func TestMessageOmitsEmptyClientMsgID(t *testing.T) {
	raw, err := bson.Marshal(chatmodel.Message{ID: 1, SenderID: "a", ReceiverID: "b"})
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	_, present := doc[chatmodel.MsgFieldClientMsgID]
	require.False(t, present)

	raw, err = bson.Marshal(chatmodel.Message{ID: 2, SenderID: "a", ReceiverID: "b", ClientMsgID: "cid"})
	require.NoError(t, err)
	require.NoError(t, bson.Unmarshal(raw, &doc))
	require.Equal(t, "cid", doc[chatmodel.MsgFieldClientMsgID])
}
