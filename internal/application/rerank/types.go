package rerank

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// 候选记录中参与匹配的字段路径（gjson 语法）
const (
	ContentPath     = "metadata.0.chunk_html"
	TitlePath       = "metadata.0.metadata.title"
	BreadcrumbsPath = "metadata.0.metadata.breadcrumbs"

	// CandidatesField 响应体中候选列表字段
	CandidatesField = "score_chunks"
)

// Field 带权重的索引字段
type Field struct {
	Name   string
	Path   string
	Weight float64
}

// DefaultFields 正文为主，标题次之，面包屑最低
func DefaultFields() []Field {
	return []Field{
		{Name: "content", Path: ContentPath, Weight: 0.6},
		{Name: "title", Path: TitlePath, Weight: 0.3},
		{Name: "breadcrumbs", Path: BreadcrumbsPath, Weight: 0.1},
	}
}

// ScoredResult 重排后的单条结果
type ScoredResult struct {
	// Index 候选在原始列表中的位置
	Index int
	// Record 原始记录，只读
	Record     json.RawMessage
	Score      float64
	Highlights []string
}

// MarshalJSON 输出原始记录的全部字段，并追加 score 与 highlights
func (r ScoredResult) MarshalJSON() ([]byte, error) {
	highlights := r.Highlights
	if highlights == nil {
		highlights = []string{}
	}

	out := append([]byte(nil), r.Record...)
	out, err := sjson.SetBytes(out, "score", r.Score)
	if err != nil {
		return nil, fmt.Errorf("set score: %w", err)
	}
	out, err = sjson.SetBytes(out, "highlights", highlights)
	if err != nil {
		return nil, fmt.Errorf("set highlights: %w", err)
	}
	return out, nil
}
