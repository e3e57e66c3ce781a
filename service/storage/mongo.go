package storage

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"CRMProject/tools/errs"
)

type MongoConfig struct {
	URI      string
	Database string
}

// NewMongo connects with a bounded timeout and verifies with a ping.
func NewMongo(ctx context.Context, cfg MongoConfig) (*mongo.Database, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(cctx, options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(100).
		SetConnectTimeout(5*time.Second))
	if err != nil {
		return nil, errs.WrapMsg(err, "mongo connect", "uri", cfg.URI)
	}
	if err := cli.Ping(cctx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errs.WrapMsg(err, "mongo ping", "uri", cfg.URI)
	}
	return cli.Database(cfg.Database), nil
}
