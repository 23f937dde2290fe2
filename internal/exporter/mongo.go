package exporter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/RecoveryAshes/intellicrawl/internal/parser"
)

const mongoOpTimeout = 10 * time.Second

// MongoExporter 把记录写入MongoDB集合
type MongoExporter struct {
	client     *mongo.Client
	collection *mongo.Collection
	uri        string
	logger     zerolog.Logger
}

func newMongoExporter(uri, database, collection string, logger zerolog.Logger) (*MongoExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("连接MongoDB失败: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("MongoDB不可达: %w", err)
	}
	return &MongoExporter{
		client:     client,
		collection: client.Database(database).Collection(collection),
		uri:        uri,
		logger:     logger,
	}, nil
}

// Export 插入一条记录
func (e *MongoExporter) Export(record parser.Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	doc := bson.M{}
	for k, v := range record {
		doc[k] = v
	}
	doc["exported_at"] = time.Now().UTC()

	if _, err := e.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("MongoDB写入失败: %w", err)
	}
	return nil
}

// Flush 逐条写入, 无缓冲
func (e *MongoExporter) Flush() error { return nil }

// Close 断开连接
func (e *MongoExporter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return e.client.Disconnect(ctx)
}

// Destination 目标集合
func (e *MongoExporter) Destination() string {
	return fmt.Sprintf("%s/%s", e.uri, e.collection.Name())
}
