package domain

// AnalysisSummary is the result of a completed analysis task.
type AnalysisSummary struct {
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	CacheHits      int     `json:"cache_hits"`
	Analysed       int     `json:"analysed"`
	FailedFiles    int     `json:"failed_files"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}
