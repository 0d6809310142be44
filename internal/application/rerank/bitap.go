package rerank

import (
	"math"
	"strings"
)

// maxPatternBits 单个 bitap 分片支持的最大模式长度
const maxPatternBits = 32

// minBitapScore 非完全相等时的最小得分，保证完全相等排在最前
const minBitapScore = 0.001

// MatchResult 单个字段的匹配结果，Score 越小越相关
type MatchResult struct {
	IsMatch bool
	Score   float64
}

// Searcher 针对一个已编译查询的字段匹配器
type Searcher interface {
	SearchIn(text string) MatchResult
}

// Matcher 模糊匹配器
type Matcher interface {
	NewSearcher(pattern string) (Searcher, error)
}

// BitapMatcher 基于 bitap 的近似子串匹配，不考虑命中位置
// 得分 = 编辑错误数 / 模式长度，超过阈值视为不匹配。
type BitapMatcher struct {
	threshold float64
}

// NewBitapMatcher 创建匹配器
func NewBitapMatcher(threshold float64) *BitapMatcher {
	return &BitapMatcher{threshold: threshold}
}

// NewSearcher 预编译查询，大小写不敏感
func (m *BitapMatcher) NewSearcher(pattern string) (Searcher, error) {
	p := []rune(strings.ToLower(pattern))
	s := &bitapSearcher{
		pattern:   string(p),
		threshold: m.threshold,
	}
	if len(p) == 0 {
		return s, nil
	}

	if len(p) <= maxPatternBits {
		s.chunks = append(s.chunks, newBitapChunk(p))
		return s, nil
	}

	// 超长查询按 32 字符分片，尾部不足时向前对齐
	remainder := len(p) % maxPatternBits
	end := len(p) - remainder
	for i := 0; i < end; i += maxPatternBits {
		s.chunks = append(s.chunks, newBitapChunk(p[i:i+maxPatternBits]))
	}
	if remainder > 0 {
		s.chunks = append(s.chunks, newBitapChunk(p[len(p)-maxPatternBits:]))
	}
	return s, nil
}

type bitapChunk struct {
	pattern  []rune
	literal  string
	alphabet map[rune]uint64
}

func newBitapChunk(p []rune) bitapChunk {
	alphabet := make(map[rune]uint64, len(p))
	for i, r := range p {
		alphabet[r] |= 1 << uint(len(p)-i-1)
	}
	return bitapChunk{pattern: p, literal: string(p), alphabet: alphabet}
}

type bitapSearcher struct {
	pattern   string
	threshold float64
	chunks    []bitapChunk
}

// SearchIn 在 text 中搜索查询
func (s *bitapSearcher) SearchIn(text string) MatchResult {
	text = strings.ToLower(text)
	if s.pattern == text {
		return MatchResult{IsMatch: true, Score: 0}
	}
	if len(s.chunks) == 0 {
		return MatchResult{Score: 1}
	}

	runes := []rune(text)
	total := 0.0
	matched := false
	for _, c := range s.chunks {
		r := c.search(text, runes, s.threshold)
		if r.IsMatch {
			matched = true
		}
		total += r.Score
	}
	if !matched {
		return MatchResult{Score: 1}
	}
	return MatchResult{IsMatch: true, Score: total / float64(len(s.chunks))}
}

// search 单分片 bitap，允许的错误数逐级递增，直到错误率超过当前阈值
func (c bitapChunk) search(text string, runes []rune, threshold float64) MatchResult {
	m := len(c.pattern)
	n := len(runes)

	current := threshold
	// 存在精确子串时只接受零错误命中
	if strings.Contains(text, c.literal) {
		current = 0
	}

	best := -1
	finalScore := 1.0
	mask := uint64(1) << uint(m-1)
	finish := n + m

	var last []uint64
	for errs := 0; errs < m; errs++ {
		bits := make([]uint64, finish+2)
		bits[finish+1] = (uint64(1) << uint(errs)) - 1

		for j := finish; j >= 1; j-- {
			loc := j - 1
			var charMatch uint64
			if loc < n {
				charMatch = c.alphabet[runes[loc]]
			}

			bits[j] = ((bits[j+1] << 1) | 1) & charMatch
			if errs > 0 {
				bits[j] |= ((last[j+1] | last[j]) << 1) | 1 | last[j+1]
			}

			if bits[j]&mask != 0 {
				finalScore = float64(errs) / float64(m)
				if finalScore <= current {
					current = finalScore
					best = loc
					if best <= 0 {
						break
					}
				}
			}
		}

		if float64(errs+1)/float64(m) > current {
			break
		}
		last = bits
	}

	return MatchResult{
		IsMatch: best >= 0,
		Score:   math.Max(minBitapScore, finalScore),
	}
}
