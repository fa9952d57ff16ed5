package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// buildMongoURI 构建 MongoDB 连接字符串
// URI 字段非空时直接使用；否则从 host/port/user/password 构建
func buildMongoURI(db DatabaseConfig) string {
	if db.URI != "" {
		return db.URI
	}
	host := db.Host
	if host == "" {
		host = "localhost"
	}
	port := db.Port
	if port == 0 {
		port = 27017
	}
	if db.User != "" && db.Password != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d",
			url.QueryEscape(db.User), url.QueryEscape(db.Password), host, port)
	}
	return fmt.Sprintf("mongodb://%s:%d", host, port)
}

var passwordPattern = regexp.MustCompile(`(://[^:/@]+:)([^@]+)(@)`)

// maskPassword 隐藏密码
func maskPassword(uri string) string {
	return passwordPattern.ReplaceAllString(uri, "${1}***${3}")
}

// parseEnv 解析环境字符串
func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}
