package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel/attribute"

	"chunk-rerank-proxy/internal/application/highlight"
	"chunk-rerank-proxy/pkg/metrics"
	"chunk-rerank-proxy/pkg/tracer"
)

// DefaultThreshold 字段匹配得分上限，超过即视为不匹配
const DefaultThreshold = 0.4

// emptyQueryScore 空查询时统一赋予的得分，保持原始顺序
const emptyQueryScore = 1.0

// Options 引擎配置
type Options struct {
	Fields []Field
}

// Engine 模糊重排引擎
type Engine struct {
	matcher     Matcher
	highlighter *highlight.Highlighter
	fields      []Field
	contentPath string
}

// NewEngine 创建重排引擎，字段权重归一化到总和为 1
// matcher 为 nil 时引擎仍可创建，但 Rank 会返回 ErrMatcherUnavailable。
func NewEngine(matcher Matcher, highlighter *highlight.Highlighter, opts Options) *Engine {
	fields := opts.Fields
	if len(fields) == 0 {
		fields = DefaultFields()
	}
	if highlighter == nil {
		highlighter = highlight.New(highlight.DefaultWindow, highlight.DefaultMaxExcerpts)
	}

	total := 0.0
	for _, f := range fields {
		if f.Weight > 0 {
			total += f.Weight
		}
	}

	normalized := make([]Field, 0, len(fields))
	contentPath := ContentPath
	for _, f := range fields {
		if f.Name == "content" {
			contentPath = f.Path
		}
		if f.Weight <= 0 {
			continue
		}
		f.Weight /= total
		normalized = append(normalized, f)
	}

	return &Engine{
		matcher:     matcher,
		highlighter: highlighter,
		fields:      normalized,
		contentPath: contentPath,
	}
}

// Transform 重排响应体中的 score_chunks，其余顶层字段原样保留
func (e *Engine) Transform(ctx context.Context, query string, payload []byte) ([]byte, error) {
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedPayload)
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: top level is not an object", ErrMalformedPayload)
	}
	chunks := root.Get(CandidatesField)
	if !chunks.IsArray() {
		return nil, fmt.Errorf("%w: %s is not an array", ErrMalformedPayload, CandidatesField)
	}

	items := chunks.Array()
	candidates := make([]json.RawMessage, 0, len(items))
	for i, item := range items {
		if !item.IsObject() {
			return nil, fmt.Errorf("%w: candidate %d is not an object", ErrMalformedPayload, i)
		}
		candidates = append(candidates, json.RawMessage(item.Raw))
	}

	results, err := e.Rank(ctx, query, candidates)
	if err != nil {
		return nil, err
	}

	ranked, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal ranked candidates: %w", err)
	}

	out, err := sjson.SetRawBytes(append([]byte(nil), payload...), CandidatesField, ranked)
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", CandidatesField, err)
	}
	return out, nil
}

// Rank 按相关度升序返回候选，得分相同保持输入顺序
// 得分超过阈值的候选被剔除，结果数量不超过输入数量。
func (e *Engine) Rank(ctx context.Context, query string, candidates []json.RawMessage) (results []ScoredResult, err error) {
	_, span := tracer.Start(ctx, "rerank.Rank")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rerank.candidates", len(candidates)),
		attribute.Int("rerank.query_len", len(query)),
	)

	if e == nil || e.matcher == nil {
		span.RecordError(ErrMatcherUnavailable)
		return nil, ErrMatcherUnavailable
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			results = nil
			err = fmt.Errorf("%w: %v", ErrMatcherFailed, r)
			span.RecordError(err)
		}
	}()

	metrics.RerankCandidates.WithLabelValues("input").Observe(float64(len(candidates)))

	if query == "" {
		results = make([]ScoredResult, 0, len(candidates))
		for i, c := range candidates {
			results = append(results, ScoredResult{Index: i, Record: c, Score: emptyQueryScore, Highlights: []string{}})
		}
		metrics.RerankCandidates.WithLabelValues("kept").Observe(float64(len(results)))
		return results, nil
	}

	searcher, err := e.matcher.NewSearcher(query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrMatcherUnavailable, err)
	}

	results = make([]ScoredResult, 0, len(candidates))
	for i, c := range candidates {
		score, ok := e.score(searcher, gjson.ParseBytes(c))
		if !ok {
			continue
		}
		results = append(results, ScoredResult{Index: i, Record: c, Score: score})
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score < results[b].Score
	})

	for i := range results {
		content := gjson.GetBytes(results[i].Record, e.contentPath).String()
		results[i].Highlights = e.highlighter.Highlight(content, query)
	}

	metrics.RerankDuration.Observe(time.Since(start).Seconds())
	metrics.RerankCandidates.WithLabelValues("kept").Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("rerank.kept", len(results)))

	return results, nil
}

// score 组合各字段得分：Π score^(weight·norm)，完全匹配按极小值计
func (e *Engine) score(searcher Searcher, record gjson.Result) (float64, bool) {
	total := 1.0
	matched := false

	for _, f := range e.fields {
		for _, value := range fieldValues(record.Get(f.Path)) {
			r := searcher.SearchIn(value)
			if !r.IsMatch {
				continue
			}
			matched = true

			s := r.Score
			if s == 0 {
				s = epsilon
			}
			total *= math.Pow(s, f.Weight*fieldNorm(value))
		}
	}
	return total, matched
}

// epsilon 与 IEEE 754 双精度机器精度一致
const epsilon = 2.220446049250313e-16

// fieldValues 展开字段值，数组按元素处理，空白值忽略
func fieldValues(v gjson.Result) []string {
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}

	var values []string
	if v.IsArray() {
		for _, item := range v.Array() {
			if item.IsArray() || item.IsObject() || item.Type == gjson.Null {
				continue
			}
			if s := item.String(); strings.TrimSpace(s) != "" {
				values = append(values, s)
			}
		}
		return values
	}
	if v.IsObject() {
		return nil
	}
	if s := v.String(); strings.TrimSpace(s) != "" {
		values = append(values, s)
	}
	return values
}

// fieldNorm 字段长度归一化：1/sqrt(词数)，保留三位小数
func fieldNorm(value string) float64 {
	tokens := 0
	for _, part := range strings.Split(value, " ") {
		if part != "" {
			tokens++
		}
	}
	if tokens == 0 {
		return 1
	}
	return math.Round(1/math.Sqrt(float64(tokens))*1000) / 1000
}
