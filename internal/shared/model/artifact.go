// Package model 定义核心数据模型
//
// artifact.go 包含二进制内容相关的数据模型定义：
//   - Blob：按内容寻址存储的二进制对象（产物、资源、源码文件）
//   - Reference：运行文档中指向 Blob 的引用
package model

import "strings"

// ============================================================================
// Blob - 内容寻址对象
// ============================================================================

// Blob 表示存储后端中的一个二进制对象
//
// 对象的身份由内容哈希决定：相同字节的内容只存储一次，
// 无论被哪个 Run 引用、迁移执行了多少次。
//
// 字段说明：
//   - FileID：存储后端中的引用（GridFS 文件 _id 或对象存储 Key）
//   - SHA256：内容的 sha256（十六进制小写）
//   - Size：字节数
type Blob struct {
	FileID string `json:"file_id" bson:"file_id"`
	SHA256 string `json:"sha256" bson:"sha256"`
	Size   int64  `json:"size" bson:"size"`
}

// ============================================================================
// Reference - Blob 引用
// ============================================================================

// Reference 运行文档中的文件引用
//
// Reference 不拥有 Blob 的生命周期，多个 Run 可以指向同一个 Blob。
// Name 保留源文件名（源码文件为相对路径，使用 / 分隔）。
type Reference struct {
	Name   string `json:"name" bson:"name"`
	FileID string `json:"file_id" bson:"file_id"`
	SHA256 string `json:"sha256" bson:"sha256"`
}

// ReferenceNames 返回引用列表中的文件名
func ReferenceNames(refs []Reference) []string {
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.Name)
	}
	return names
}

// ShortHash 返回内容哈希前 12 位，用于日志
func (r Reference) ShortHash() string {
	if len(r.SHA256) <= 12 {
		return r.SHA256
	}
	return strings.ToLower(r.SHA256[:12])
}
