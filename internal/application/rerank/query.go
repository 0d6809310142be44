package rerank

import (
	"github.com/tidwall/gjson"
)

// ExtractQuery 从请求体中读取 query 字段
// 请求体缺失、不是合法 JSON、或 query 不是字符串时返回空串。
func ExtractQuery(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return ""
	}

	q := root.Get("query")
	if q.Type != gjson.String {
		return ""
	}
	return q.String()
}
