package mongostore

import (
	"context"
	"sort"

	"observer-migrate/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// MetricStore
// ============================================================================

// ReplaceMetrics 整体替换运行的指标序列
//
// 每个序列以 (run_id, name) 为键执行 FindOneAndReplace(upsert)，
// 已存在的文档保留 _id，因此 info.metrics 中的指针在重复迁移后保持不变。
// 替换而非 $push 追加：重复迁移不会累积采样点。
func (s *Store) ReplaceMetrics(ctx context.Context, runID int, series []*model.MetricSeries) ([]model.MetricPointer, error) {
	col := s.metrics()
	ptrs := make([]model.MetricPointer, 0, len(series))
	names := make(bson.A, 0, len(series))

	for _, m := range series {
		filter := bson.D{{Key: "run_id", Value: runID}, {Key: "name", Value: m.Name}}
		doc := bson.D{
			{Key: "run_id", Value: runID},
			{Key: "name", Value: m.Name},
			{Key: "steps", Value: m.Steps},
			{Key: "timestamps", Value: m.Timestamps},
			{Key: "values", Value: m.Values},
		}
		opts := options.FindOneAndReplace().
			SetUpsert(true).
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: "_id", Value: 1}})

		var out struct {
			ID bson.ObjectID `bson:"_id"`
		}
		if err := col.FindOneAndReplace(ctx, filter, doc, opts).Decode(&out); err != nil {
			return nil, wrapError(err)
		}
		ptrs = append(ptrs, model.MetricPointer{Name: m.Name, ID: out.ID.Hex()})
		names = append(names, m.Name)
	}

	// 删除源文件中已不存在的旧指标
	stale := bson.D{
		{Key: "run_id", Value: runID},
		{Key: "name", Value: bson.D{{Key: "$nin", Value: names}}},
	}
	if _, err := col.DeleteMany(ctx, stale); err != nil {
		return nil, wrapError(err)
	}

	sort.Slice(ptrs, func(i, j int) bool { return ptrs[i].Name < ptrs[j].Name })
	return ptrs, nil
}

func (s *Store) ListMetrics(ctx context.Context, runID int) ([]*model.MetricSeries, error) {
	filter := bson.D{{Key: "run_id", Value: runID}}
	opts := options.Find().SetSort(bson.D{{Key: "name", Value: 1}})
	return findMany[model.MetricSeries](ctx, s.metrics(), filter, opts)
}
