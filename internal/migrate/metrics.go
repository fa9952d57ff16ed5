package migrate

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 运行结果标签
const (
	OutcomeMigrated = "migrated"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
)

// Metrics 迁移指标
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal     *prometheus.CounterVec
	RunDuration   prometheus.Histogram
	BlobsTotal    *prometheus.CounterVec
	BlobBytes     *prometheus.CounterVec
	MetricSeries  prometheus.Counter
	LastMigration prometheus.Gauge
}

// NewMetrics 创建指标实例，注册到独立的 Registry（一次迁移一个进程）
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Run directories processed by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time to migrate a single run in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		BlobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blobs_total",
				Help:      "Blob store calls by result",
			},
			[]string{"result"},
		),
		BlobBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blob_bytes_total",
				Help:      "Bytes passed through the content store by result",
			},
			[]string{"result"},
		),
		MetricSeries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_series_total",
				Help:      "Metric series written",
			},
		),
		LastMigration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_migration_timestamp_seconds",
				Help:      "Unix time the last migration finished",
			},
		),
	}
}

// RecordRun 记录单个运行目录的处理结果
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		m.RunDuration.Observe(duration.Seconds())
	}
}

// RecordBlob 实现 contentstore.Recorder
func (m *Metrics) RecordBlob(result string, size int64) {
	m.BlobsTotal.WithLabelValues(result).Inc()
	m.BlobBytes.WithLabelValues(result).Add(float64(size))
}

// RecordSeries 记录写入的指标序列数
func (m *Metrics) RecordSeries(n int) {
	m.MetricSeries.Add(float64(n))
}

// MarkFinished 记录迁移完成时间
func (m *Metrics) MarkFinished() {
	m.LastMigration.SetToCurrentTime()
}

// Registry 返回指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile 以 node_exporter textfile 格式写出指标
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
