package models

// ReportSummary 报告汇总
type ReportSummary struct {
	AverageResponseTime float64 `json:"average_response_time"`
	TotalRequests       int     `json:"total_requests"`
	ErrorRate           float64 `json:"error_rate"`
	Uptime              float64 `json:"uptime"`
	PeakConcurrentUsers float64 `json:"peak_concurrent_users"`
}

// ReportTrends 按小时分桶的三条趋势线
type ReportTrends struct {
	ResponseTime []TimeSeriesPoint `json:"response_time"`
	Throughput   []TimeSeriesPoint `json:"throughput"`
	ErrorRate    []TimeSeriesPoint `json:"error_rate"`
}

// EndpointStats 单个接口的统计
type EndpointStats struct {
	Endpoint     string  `json:"endpoint"`
	Requests     int     `json:"requests"`
	ResponseTime float64 `json:"response_time"`
	ErrorRate    float64 `json:"error_rate"`
}

// PerformanceReport 时间窗口内的性能报告，每次请求重新生成
type PerformanceReport struct {
	Period       TimeRange       `json:"period"`
	Summary      ReportSummary   `json:"summary"`
	Trends       ReportTrends    `json:"trends"`
	TopEndpoints []EndpointStats `json:"top_endpoints"`
	Alerts       []Alert         `json:"alerts"`
}
