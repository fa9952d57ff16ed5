// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 命令行参数（由 cmd/storage2mongo 在 Load 之后覆盖）
//  2. 环境变量（通过 .env 文件或 shell 注入）
//  3. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  4. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件或环境变量中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/observer-migrate/
//     - dev/test → ./configs/
package config

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// Blob 后端
const (
	BlobBackendGridFS = "gridfs"
	BlobBackendMinIO  = "minio"
)

// YAMLConfig 统一 YAML 配置文件结构
type YAMLConfig struct {
	Database  DatabaseConfig  `yaml:"database"`  // 目标 MongoDB
	MinIO     MinIOConfig     `yaml:"minio"`     // MinIO 对象存储（blob_backend=minio 时使用）
	Migration MigrationConfig `yaml:"migration"` // 迁移参数
	Log       LogConfig       `yaml:"log"`       // 日志
	Metrics   MetricsConfig   `yaml:"metrics"`   // Prometheus 指标
}

type DatabaseConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	User             string `yaml:"user"`
	Password         string `yaml:"-"` // 只从 MONGO_ROOT_PASSWORD 环境变量读取
	Name             string `yaml:"name"`
	URI              string `yaml:"uri"`               // 连接 URI（优先于 host/port）
	CollectionPrefix string `yaml:"collection_prefix"` // 非空时集合为 {prefix}_runs / {prefix}_metrics
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// MigrationConfig 迁移参数
type MigrationConfig struct {
	RunsRoot    string `yaml:"runs_root"`    // 文件观察者的根目录（每个运行一个子目录）
	SourceDir   string `yaml:"source_dir"`   // 源码目录（可选，不存在时所有运行的 sources 为空）
	Workers     int    `yaml:"workers"`      // 并发处理的运行数，默认 1（顺序处理）
	BlobBackend string `yaml:"blob_backend"` // "gridfs"（默认）或 "minio"
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug/info/warn/error
	Format string `yaml:"format"` // json or text
}

// MetricsConfig 指标导出配置
type MetricsConfig struct {
	Listen   string `yaml:"listen"`   // 非空时在该地址暴露 /metrics，例如 ":9108"
	Textfile string `yaml:"textfile"` // 非空时迁移结束后写入 node_exporter textfile
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseURL    string
	DatabaseName   string
	Database       DatabaseConfig
	MinIO          MinIOConfig
	Migration      MigrationConfig
	Log            LogConfig
	Metrics        MetricsConfig
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
