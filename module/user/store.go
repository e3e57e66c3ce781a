package user

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	usermodel "CRMProject/module/user/model"
	"CRMProject/tools/errs"
)

const collUsers = "users"

type mongoDirectory struct {
	coll *mongo.Collection
}

// NewMongoDirectory builds the production Directory over the users collection.
func NewMongoDirectory(db *mongo.Database) Directory {
	return &mongoDirectory{coll: db.Collection(collUsers)}
}

func (d *mongoDirectory) GetByID(ctx context.Context, userID string) (*usermodel.User, error) {
	return d.findOne(ctx, bson.M{usermodel.UserFieldUserID: userID})
}

func (d *mongoDirectory) GetByEmail(ctx context.Context, email string) (*usermodel.User, error) {
	return d.findOne(ctx, bson.M{usermodel.UserFieldEmail: email})
}

func (d *mongoDirectory) GetByName(ctx context.Context, name string) (*usermodel.User, error) {
	u, err := d.findOne(ctx, bson.M{usermodel.UserFieldName: name})
	if err != nil && errs.ErrRecordNotFound.Is(err) {
		return nil, nil
	}
	return u, err
}

func (d *mongoDirectory) ListByPole(ctx context.Context, pole string) ([]usermodel.User, error) {
	cur, err := d.coll.Find(ctx, bson.M{usermodel.UserFieldPole: pole})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var out []usermodel.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (d *mongoDirectory) ListAll(ctx context.Context) ([]usermodel.User, error) {
	cur, err := d.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var out []usermodel.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.Wrap(err)
	}
	return out, nil
}

func (d *mongoDirectory) findOne(ctx context.Context, filter bson.M) (*usermodel.User, error) {
	var u usermodel.User
	err := d.coll.FindOne(ctx, filter).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("user not found")
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &u, nil
}
