package domain

// AnalysisProgress is a point-in-time view of a running analysis pipeline.
type AnalysisProgress struct {
	TotalFiles     int    // Number of files the scanner produced
	ProcessedFiles int    // Files in a terminal state (success or final failure)
	CurrentFile    string // One of the files in flight at observation time
	CacheHits      int    // Files satisfied from the cache without extraction
	Analysed       int    // Files that went through the extractor
	Failed         int    // Files that exhausted retries or failed hard
}

// Percent returns progress as a value in [0,100].
func (p AnalysisProgress) Percent() float64 {
	if p.TotalFiles <= 0 {
		return 0
	}
	return float64(p.ProcessedFiles) / float64(p.TotalFiles) * 100
}
