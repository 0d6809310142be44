package dto

// CacheStatsResponse 响应缓存统计
type CacheStatsResponse struct {
	Backend    string `json:"backend"`
	Entries    int    `json:"entries"`
	TTLSeconds int64  `json:"ttl_seconds"`
	Endpoint   string `json:"endpoint"`
}
