package mongostore

import (
	"context"

	"observer-migrate/internal/shared/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ============================================================================
// RunStore
// ============================================================================

// ReplaceRun 整体替换运行文档（upsert），重复迁移同一运行得到相同结果
func (s *Store) ReplaceRun(ctx context.Context, run *model.Run) error {
	return replaceByID(ctx, s.runs(), run.ID, run)
}

func (s *Store) GetRun(ctx context.Context, id int) (*model.Run, error) {
	return findOne[model.Run](ctx, s.runs(), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListRunIDs(ctx context.Context) ([]int, error) {
	type idOnly struct {
		ID int `bson:"_id"`
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetProjection(bson.D{{Key: "_id", Value: 1}})
	docs, err := findMany[idOnly](ctx, s.runs(), bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
