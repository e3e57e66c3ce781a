package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	notifmodel "CRMProject/module/notify/model"
	"CRMProject/tools/errs"
)

const collNotifications = "notifications"

type Store struct {
	Coll *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{Coll: db.Collection(collNotifications)}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.Coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: notifmodel.NotifFieldUserID, Value: 1},
				{Key: notifmodel.NotifFieldCreatedAt, Value: -1}},
		},
		{
			Keys:    bson.D{{Key: notifmodel.NotifFieldID, Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
	return errs.Wrap(err)
}

func (s *Store) Create(ctx context.Context, userID, typ string, data map[string]any, link string) (*notifmodel.Notification, error) {
	n := notifmodel.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Data:      data,
		Link:      link,
		CreatedAt: time.Now(),
	}
	if _, err := s.Coll.InsertOne(ctx, n); err != nil {
		return nil, errs.Wrap(err)
	}
	return &n, nil
}

func (s *Store) ListForUser(ctx context.Context, userID string, limit int64) ([]notifmodel.Notification, error) {
	cur, err := s.Coll.Find(ctx,
		bson.M{notifmodel.NotifFieldUserID: userID},
		options.Find().
			SetSort(bson.D{{Key: notifmodel.NotifFieldCreatedAt, Value: -1}}).
			SetLimit(limit),
	)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var out []notifmodel.Notification
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (s *Store) MarkOneRead(ctx context.Context, id, requestingUserID string) error {
	var n notifmodel.Notification
	err := s.Coll.FindOne(ctx, bson.M{notifmodel.NotifFieldID: id}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return errs.ErrRecordNotFound.WrapMsg("notification not found", "id", id)
	}
	if err != nil {
		return errs.Wrap(err)
	}
	if n.UserID != requestingUserID {
		return errs.ErrNoPermission.WrapMsg("not the recipient", "id", id)
	}
	// 幂等：只动未读
	_, err = s.Coll.UpdateOne(ctx,
		bson.M{notifmodel.NotifFieldID: id, notifmodel.NotifFieldReadAt: nil},
		bson.M{"$set": bson.M{notifmodel.NotifFieldReadAt: time.Now()}},
	)
	return errs.Wrap(err)
}

func (s *Store) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.Coll.UpdateMany(ctx,
		bson.M{notifmodel.NotifFieldUserID: userID, notifmodel.NotifFieldReadAt: nil},
		bson.M{"$set": bson.M{notifmodel.NotifFieldReadAt: time.Now()}},
	)
	if err != nil {
		return 0, errs.Wrap(err)
	}
	return res.ModifiedCount, nil
}
