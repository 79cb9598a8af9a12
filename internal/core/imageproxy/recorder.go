package imageproxy

// Recorder receives pipeline observations. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// IncCacheStatus counts a served response by its cache status.
	IncCacheStatus(status CacheStatus)
	// ObserveFetch records how long the origin took to answer and how it ended.
	ObserveFetch(outcome string, seconds float64)
	// ObserveTranscode records stream+decode+encode time and the output size.
	ObserveTranscode(seconds float64, outputBytes int)
	// ObserveLockWait records a wait on another worker's lock.
	ObserveLockWait(outcome string, seconds float64)
}

// NoopRecorder implements Recorder without emitting anything.
type NoopRecorder struct{}

func (NoopRecorder) IncCacheStatus(CacheStatus)      {}
func (NoopRecorder) ObserveFetch(string, float64)    {}
func (NoopRecorder) ObserveTranscode(float64, int)   {}
func (NoopRecorder) ObserveLockWait(string, float64) {}
