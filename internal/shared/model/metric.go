package model

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// MetricSample 指标采样点
type MetricSample struct {
	Step      int64
	Timestamp time.Time
	Value     float64
}

// MetricSeries metrics 集合中的一个文档：一个运行的一个指标
//
// Steps/Timestamps/Values 为平行数组，顺序与源文件记录顺序完全一致。
type MetricSeries struct {
	ID         bson.ObjectID `json:"_id" bson:"_id,omitempty"`
	RunID      int           `json:"run_id" bson:"run_id"`
	Name       string        `json:"name" bson:"name"`
	Steps      []int64       `json:"steps" bson:"steps"`
	Timestamps []time.Time   `json:"timestamps" bson:"timestamps"`
	Values     []float64     `json:"values" bson:"values"`
}

// NewMetricSeries 由采样点构建指标文档（保持采样顺序）
func NewMetricSeries(runID int, name string, samples []MetricSample) *MetricSeries {
	s := &MetricSeries{
		RunID:      runID,
		Name:       name,
		Steps:      make([]int64, 0, len(samples)),
		Timestamps: make([]time.Time, 0, len(samples)),
		Values:     make([]float64, 0, len(samples)),
	}
	for _, p := range samples {
		s.Steps = append(s.Steps, p.Step)
		s.Timestamps = append(s.Timestamps, p.Timestamp)
		s.Values = append(s.Values, p.Value)
	}
	return s
}

// Len 采样点数量
func (s *MetricSeries) Len() int {
	return len(s.Steps)
}

// MetricPointer info.metrics 中指向 metrics 文档的指针
type MetricPointer struct {
	Name string `json:"name" bson:"name"`
	ID   string `json:"id" bson:"id"`
}

func (p *MetricPointer) set(key string, value any) {
	v, _ := value.(string)
	switch key {
	case "name":
		p.Name = v
	case "id":
		p.ID = v
	}
}
