package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	chatmodel "CRMProject/module/chat/model"
	"CRMProject/tools/errs"
)

const (
	collMessages = "messages"
	collCounters = "counters"

	counterMessageID = "message_id"
)

type Store struct {
	MsgColl     *mongo.Collection
	CounterColl *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		MsgColl:     db.Collection(collMessages),
		CounterColl: db.Collection(collCounters),
	}
}

// indexModels 消息集合的索引定义。
// 幂等键的唯一索引必须用 partial filter 而不是 sparse：
// sparse 复合索引只要任一字段存在就收录，而 sender_id 总是存在，
// 没带 client_msg_id 的消息会全部落到 (sender, null) 撞唯一约束。
func indexModels() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{{Key: chatmodel.MsgFieldSenderID, Value: 1},
				{Key: chatmodel.MsgFieldClientMsgID, Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{
					chatmodel.MsgFieldClientMsgID: bson.M{"$exists": true},
				}),
		},
		{
			Keys: bson.D{{Key: chatmodel.MsgFieldSenderID, Value: 1},
				{Key: chatmodel.MsgFieldReceiverID, Value: 1},
				{Key: chatmodel.MsgFieldCreatedAt, Value: 1}},
		},
		{
			Keys:    bson.D{{Key: chatmodel.MsgFieldID, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
}

// EnsureIndexes 幂等建索引：幂等键唯一（部分索引）、会话对查询、未读统计。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.MsgColl.Indexes().CreateMany(ctx, indexModels())
	return errs.Wrap(err)
}

// nextID 原子自增计数器分配消息ID
func (s *Store) nextID(ctx context.Context) (int64, error) {
	after := options.After
	res := s.CounterColl.FindOneAndUpdate(ctx,
		bson.M{"_id": counterMessageID},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		&options.FindOneAndUpdateOptions{
			Upsert:         boolPtr(true),
			ReturnDocument: &after,
		},
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, errs.Wrap(err)
	}
	return doc.Seq, nil
}

func (s *Store) Create(ctx context.Context, in CreateInput) (*chatmodel.Message, error) {
	// 幂等：同一发送者的 client_msg_id 重复提交直接返回原记录
	if in.ClientMsgID != "" {
		if prev, err := s.findByClientID(ctx, in.SenderID, in.ClientMsgID); err != nil {
			return nil, err
		} else if prev != nil {
			return prev, nil
		}
	}

	id, err := s.nextID(ctx)
	if err != nil {
		return nil, err
	}
	m := chatmodel.Message{
		ID:          id,
		SenderID:    in.SenderID,
		ReceiverID:  in.ReceiverID,
		Content:     in.Content,
		ImageURL:    in.ImageURL,
		AudioURL:    in.AudioURL,
		ClientMsgID: in.ClientMsgID,
		CreatedAt:   time.Now(),
	}
	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		// 并发重试撞上唯一索引：返回已有记录
		if mongo.IsDuplicateKeyError(err) && in.ClientMsgID != "" {
			if prev, ferr := s.findByClientID(ctx, in.SenderID, in.ClientMsgID); ferr == nil && prev != nil {
				return prev, nil
			}
		}
		return nil, errs.Wrap(err)
	}
	return &m, nil
}

func (s *Store) findByClientID(ctx context.Context, senderID, clientMsgID string) (*chatmodel.Message, error) {
	var m chatmodel.Message
	err := s.MsgColl.FindOne(ctx, bson.M{
		chatmodel.MsgFieldSenderID:    senderID,
		chatmodel.MsgFieldClientMsgID: clientMsgID,
	}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &m, nil
}

func (s *Store) ListConversation(ctx context.Context, userA, userB string) ([]chatmodel.Message, error) {
	cur, err := s.MsgColl.Find(ctx,
		betweenFilter(userA, userB),
		options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldCreatedAt, Value: 1}}),
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var out []chatmodel.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (s *Store) UnreadFrom(ctx context.Context, senderID, receiverID string) ([]int64, error) {
	cur, err := s.MsgColl.Find(ctx,
		unreadFilter(senderID, receiverID),
		options.Find().SetProjection(bson.M{chatmodel.MsgFieldID: 1}),
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var rows []chatmodel.Message
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.Wrap(err)
	}
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (s *Store) MarkRead(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.MsgColl.UpdateMany(ctx,
		bson.M{
			chatmodel.MsgFieldID:     bson.M{"$in": ids},
			chatmodel.MsgFieldReadAt: nil,
		},
		bson.M{"$set": bson.M{chatmodel.MsgFieldReadAt: time.Now()}},
	)
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return res.ModifiedCount, nil
}

func (s *Store) CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error) {
	n, err := s.MsgColl.CountDocuments(ctx, unreadFilter(senderID, receiverID))
	return n, errs.Wrap(err)
}

func (s *Store) LastMessageBetween(ctx context.Context, userA, userB string) (*chatmodel.Message, error) {
	cur, err := s.MsgColl.Find(ctx,
		betweenFilter(userA, userB),
		options.Find().SetSort(bson.D{{Key: chatmodel.MsgFieldCreatedAt, Value: -1}}).SetLimit(1),
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var rows []chatmodel.Message
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.Wrap(err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func betweenFilter(userA, userB string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{chatmodel.MsgFieldSenderID: userA, chatmodel.MsgFieldReceiverID: userB},
		bson.M{chatmodel.MsgFieldSenderID: userB, chatmodel.MsgFieldReceiverID: userA},
	}}
}

func unreadFilter(senderID, receiverID string) bson.M {
	return bson.M{
		chatmodel.MsgFieldSenderID:   senderID,
		chatmodel.MsgFieldReceiverID: receiverID,
		chatmodel.MsgFieldReadAt:     nil,
	}
}

func boolPtr(b bool) *bool { return &b }
