package docking

// ProgressEvent is a periodic structured update from a running search.
type ProgressEvent struct {
	Strategy     string
	Iteration    int
	Total        int
	Temperature  float64
	Radius       float64
	BestScore    float64
	CurrentScore float64
}

// ProgressSink consumes progress events. Implementations must return
// quickly; they are called from the search control loop.
type ProgressSink interface {
	Progress(ProgressEvent)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(ProgressEvent)

// Progress calls f(ev).
func (f ProgressFunc) Progress(ev ProgressEvent) { f(ev) }

// NopProgress discards every event.
var NopProgress ProgressSink = ProgressFunc(func(ProgressEvent) {})

// ProgressOrNop returns sink, or NopProgress when sink is nil.
func ProgressOrNop(sink ProgressSink) ProgressSink {
	if sink == nil {
		return NopProgress
	}
	return sink
}
