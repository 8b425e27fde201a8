package genqueue

// Metrics is the read-only snapshot returned by QueueManager.GetMetrics,
// including the running analytics-drop count.
type Metrics struct {
	QueueSize      int
	ActiveJobs     int
	Concurrency    int
	ConfigMaxQueue int

	// AnalyticsDropped is the running total of analytics events dropped
	// due to back-pressure on the bounded sink.
	AnalyticsDropped int64
}
