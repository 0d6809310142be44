// Package highlight 提供查询命中片段的截取与标记
package highlight

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultWindow 命中两侧保留的字符数
	DefaultWindow = 15
	// DefaultMaxExcerpts 单段文本最多返回的片段数
	DefaultMaxExcerpts = 3

	DefaultOpenTag  = "<mark>"
	DefaultCloseTag = "</mark>"
)

// Highlighter 片段高亮器，零值不可用，请使用 New
type Highlighter struct {
	Window      int
	MaxExcerpts int
	OpenTag     string
	CloseTag    string
}

// New 创建高亮器，非法参数回退到默认值
func New(window, maxExcerpts int) *Highlighter {
	if window < 0 {
		window = DefaultWindow
	}
	if maxExcerpts <= 0 {
		maxExcerpts = DefaultMaxExcerpts
	}
	return &Highlighter{
		Window:      window,
		MaxExcerpts: maxExcerpts,
		OpenTag:     DefaultOpenTag,
		CloseTag:    DefaultCloseTag,
	}
}

// Highlight 使用默认片段数与标记截取 text 中 query 的命中片段
func Highlight(text, query string, window int) []string {
	return New(window, DefaultMaxExcerpts).Highlight(text, query)
}

// Highlight 返回按出现顺序排列的片段，每个片段为 [命中起点-Window, 命中终点+Window]
// 截断到文本边界后的切片。包裹时对切片重新匹配，切片内完整出现的 query 均被包裹，
// query 自身可重叠时（如 "aa"）被包裹的位置不一定是产生该片段的那次命中。
// query 按字面量、大小写不敏感匹配；无命中或 query 为空时返回空切片。
func (h *Highlighter) Highlight(text, query string) []string {
	if query == "" || text == "" || h.MaxExcerpts <= 0 {
		return []string{}
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(query))
	if err != nil {
		return []string{}
	}

	matches := re.FindAllStringIndex(text, h.MaxExcerpts)
	if len(matches) == 0 {
		return []string{}
	}

	offsets := runeOffsets(text)
	total := len(offsets) - 1

	excerpts := make([]string, 0, len(matches))
	for _, m := range matches {
		startRune := runeIndex(offsets, m[0])
		endRune := runeIndex(offsets, m[1])

		from := max(0, startRune-h.Window)
		to := min(total, endRune+h.Window)

		snippet := text[offsets[from]:offsets[to]]
		excerpts = append(excerpts, h.mark(re, snippet))
	}
	return excerpts
}

// mark 在片段内重新从左到右匹配，包裹所有不重叠的完整命中
func (h *Highlighter) mark(re *regexp.Regexp, snippet string) string {
	var b strings.Builder
	b.Grow(len(snippet) + len(h.OpenTag) + len(h.CloseTag))

	last := 0
	for _, m := range re.FindAllStringIndex(snippet, -1) {
		b.WriteString(snippet[last:m[0]])
		b.WriteString(h.OpenTag)
		b.WriteString(snippet[m[0]:m[1]])
		b.WriteString(h.CloseTag)
		last = m[1]
	}
	b.WriteString(snippet[last:])
	return b.String()
}

// runeOffsets 返回每个字符的字节起点，末尾追加 len(text)
func runeOffsets(text string) []int {
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

// runeIndex 将字节偏移转换为字符下标，offsets 单调递增
func runeIndex(offsets []int, byteOffset int) int {
	lo, hi := 0, len(offsets)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if offsets[mid] < byteOffset {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}
