// Package embedding 提供统一的嵌入提供者接口和实现.
package embedding

import (
	"context"
)

// DefaultDimensions 是部署使用的嵌入维度.
const DefaultDimensions = 1536

// Provider 定义统一的嵌入提供者接口.
type Provider interface {
	// EmbedQuery 为单个查询生成嵌入.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回嵌入维度.
	Dimensions() int
}
