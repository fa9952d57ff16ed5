// Package mongostore 实现基于 MongoDB 的 RunStore 与 BlobStore
//
// 使用 mongo-go-driver v2，通过 bson tag 实现 model 结构体的序列化/反序列化。
// 集合布局与数据库观察者一致：{prefix}runs、{prefix}metrics，以及 GridFS fs 桶。
// 所有 Collection 名称和索引在 ensureIndexes 中统一管理。
package mongostore

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"time"

	"observer-migrate/internal/shared/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection 名称常量
const (
	ColRuns    = "runs"
	ColMetrics = "metrics"

	// BucketName GridFS 桶名称（fs.files / fs.chunks）
	BucketName = "fs"
)

// reservedCollections 数据库观察者保留的集合名称
var reservedCollections = map[string]bool{
	"fs.files":       true,
	"fs.chunks":      true,
	"_properties":    true,
	"system.indexes": true,
	"search_space":   true,
	"search_spaces":  true,
}

// Store 实现 storage.RunStore 与 storage.BlobStore 接口的 MongoDB 驱动
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	bucket *mongo.GridFSBucket

	runsName    string
	metricsName string
}

// 确保 Store 实现了存储接口
var (
	_ storage.RunStore  = (*Store)(nil)
	_ storage.BlobStore = (*Store)(nil)
)

// NewStore 创建 MongoDB 存储实例
//
// uri: MongoDB 连接 URI，如 "mongodb://localhost:27017"
// dbName: 数据库名称，如 "sacred"
// prefix: 集合前缀，非空时 runs 存储到 {prefix}_runs，metrics 存储到 {prefix}_metrics
//
// 连接或 ping 失败返回 *storage.ConnectionError。
func NewStore(uri, dbName, prefix string) (*Store, error) {
	runsName, metricsName, err := CollectionNames(prefix)
	if err != nil {
		return nil, err
	}

	target := redactURI(uri)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, &storage.ConnectionError{Target: target, Err: fmt.Errorf("mongostore: connect failed: %w", err)}
	}

	// 验证连接
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, &storage.ConnectionError{Target: target, Err: fmt.Errorf("mongostore: ping failed: %w", err)}
	}

	db := client.Database(dbName)
	s := &Store{
		client:      client,
		db:          db,
		bucket:      db.GridFSBucket(options.GridFSBucket().SetName(BucketName)),
		runsName:    runsName,
		metricsName: metricsName,
	}

	// 创建索引
	if err := s.ensureIndexes(ctx); err != nil {
		log.Printf("WARNING: mongostore: ensure indexes failed: %v", err)
	}

	return s, nil
}

// redactURI 隐藏连接串中的密码
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<invalid uri>"
	}
	return u.Redacted()
}

// CollectionNames 根据前缀计算 runs / metrics 集合名称
func CollectionNames(prefix string) (runs, metrics string, err error) {
	if prefix != "" {
		prefix += "_"
	}
	runs = prefix + ColRuns
	metrics = prefix + ColMetrics
	for _, name := range []string{runs, metrics} {
		if reservedCollections[name] {
			return "", "", fmt.Errorf("%w: %q", storage.ErrReservedCollection, name)
		}
	}
	return runs, metrics, nil
}

// Close 关闭 MongoDB 连接
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// col 获取指定 Collection
func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func (s *Store) runs() *mongo.Collection    { return s.col(s.runsName) }
func (s *Store) metrics() *mongo.Collection { return s.col(s.metricsName) }
func (s *Store) files() *mongo.Collection   { return s.col(BucketName + ".files") }
func (s *Store) chunks() *mongo.Collection  { return s.col(BucketName + ".chunks") }

// ensureIndexes 创建所有必要的索引
func (s *Store) ensureIndexes(ctx context.Context) error {
	type idx struct {
		col    string
		keys   bson.D
		unique bool
	}

	indexes := []idx{
		// runs
		{s.runsName, bson.D{{Key: "status", Value: 1}}, false},
		{s.runsName, bson.D{{Key: "experiment.name", Value: 1}}, false},
		{s.runsName, bson.D{{Key: "start_time", Value: -1}}, false},

		// metrics：(run_id, name) 唯一，保证整体替换不会产生重复序列
		{s.metricsName, bson.D{{Key: "run_id", Value: 1}, {Key: "name", Value: 1}}, true},
	}

	for _, i := range indexes {
		model := mongo.IndexModel{Keys: i.keys}
		if i.unique {
			model.Options = options.Index().SetUnique(true)
		}
		if _, err := s.col(i.col).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("create index on %s: %w", i.col, err)
		}
	}

	return nil
}
