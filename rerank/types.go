// Package rerank 提供交叉编码器重排与候选校验.
package rerank

import (
	"context"
)

// RerankRequest 表示重排请求.
type RerankRequest struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
	Model     string     `json:"model,omitempty"`
	TopN      int        `json:"top_n,omitempty"`
}

// Document 表示待重排的文档.
type Document struct {
	Text string `json:"text"`
	ID   string `json:"id,omitempty"`
}

// RerankResult 表示单个重排结果.
type RerankResult struct {
	Index          int     `json:"index"`           // Original index in input
	RelevanceScore float64 `json:"relevance_score"` // 0-1 normalized score
}

// Provider 定义统一的重排提供者接口.
type Provider interface {
	// Rerank 根据查询相关性对文档打分.
	Rerank(ctx context.Context, req *RerankRequest) ([]RerankResult, error)

	// Name 返回提供者名称.
	Name() string

	// MaxDocuments 返回支持的最大文档数.
	MaxDocuments() int
}
