package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 加载配置
// 1. 加载 .env.{env}（敏感信息）
// 2. 根据 APP_ENV 加载 {env}.yaml
// 3. 环境变量覆盖
// 4. 构建最终配置
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	applyEnvOverrides(&yamlCfg.YAMLConfig)

	cfg := &Config{
		Env:            env,
		Database:       yamlCfg.Database,
		MinIO:          yamlCfg.MinIO,
		Migration:      yamlCfg.Migration,
		Log:            yamlCfg.Log,
		Metrics:        yamlCfg.Metrics,
		ConfigFilePath: yamlCfg.loadedFrom,
	}
	cfg.Finalize()
	return cfg
}

// Finalize 填充默认值并重新计算派生字段
//
// 命令行参数覆盖 Database/Migration 后需再次调用。
func (c *Config) Finalize() {
	c.Migration.validate()
	c.DatabaseURL = buildMongoURI(c.Database)
	c.DatabaseName = c.Database.Name
	if c.DatabaseName == "" {
		c.DatabaseName = "sacred"
	}
}

// defaultYAMLConfig 硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Database:  DatabaseConfig{Host: "localhost", Port: 27017, Name: "sacred"},
		MinIO:     MinIOConfig{Endpoint: "localhost:9000", Bucket: "observer-blobs"},
		Migration: MigrationConfig{Workers: 1, BlobBackend: BlobBackendGridFS},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
			log.Printf("WARNING: config: parse %s failed: %v", path, err)
			continue
		}
		cfg.loadedFrom = path
		break
	}
	return cfg
}

// applyEnvOverrides 环境变量覆盖 YAML 配置
func applyEnvOverrides(cfg *YAMLConfig) {
	cfg.Database.Password = os.Getenv("MONGO_ROOT_PASSWORD")
	if v := os.Getenv("MONGO_ROOT_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Database.URI = v
	}
	if v := os.Getenv("MONGO_DB"); v != "" {
		cfg.Database.Name = v
	}
	cfg.MinIO.AccessKey = os.Getenv("MINIO_ROOT_USER")
	cfg.MinIO.SecretKey = os.Getenv("MINIO_ROOT_PASSWORD")
	if v := os.Getenv("RUNS_ROOT"); v != "" {
		cfg.Migration.RunsRoot = v
	}
	if v := os.Getenv("SOURCE_DIR"); v != "" {
		cfg.Migration.SourceDir = v
	}
	if v := os.Getenv("MIGRATE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Migration.Workers = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// String 返回配置摘要（隐藏密码）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s/%s, Runs: %s, Source: %s, Blobs: %s, Workers: %d}",
		c.Env, maskPassword(c.DatabaseURL), c.DatabaseName, c.Migration.RunsRoot,
		c.Migration.SourceDir, c.Migration.BlobBackend, c.Migration.Workers)
}

// validate 验证并填充迁移默认值
func (m *MigrationConfig) validate() {
	if m.Workers <= 0 {
		m.Workers = 1
	}
	switch strings.ToLower(m.BlobBackend) {
	case BlobBackendMinIO:
		m.BlobBackend = BlobBackendMinIO
	default:
		m.BlobBackend = BlobBackendGridFS
	}
}
