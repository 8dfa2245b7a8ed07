// ABOUTME: Optional progress reporting for long running index operations
// ABOUTME: The zero Progress discards every report

// Package progress reports which phase of a multi-phase operation is running.
package progress

import "sync"

// Phase identifies the phase an operation just entered
type Phase struct {
	Step  string
	Name  string
	Index int
	Total int
}

// Sink receives phase reports
type Sink interface {
	Report(Phase)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Phase)

func (f SinkFunc) Report(p Phase) { f(p) }

// Progress forwards reports to an optional sink
type Progress struct {
	sink Sink
}

// New wraps sink; a nil sink gives a no-op Progress
func New(sink Sink) Progress {
	return Progress{sink: sink}
}

// Enter reports that step has entered phases[i]
func (p Progress) Enter(step string, phases []string, i int) {
	if p.sink == nil || i < 0 || i >= len(phases) {
		return
	}
	p.sink.Report(Phase{Step: step, Name: phases[i], Index: i, Total: len(phases)})
}

// Recorder is a Sink that keeps every report
type Recorder struct {
	mu     sync.Mutex
	phases []Phase
}

func (r *Recorder) Report(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, p)
}

// Phases returns a copy of the reports received so far
func (r *Recorder) Phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Phase(nil), r.phases...)
}
