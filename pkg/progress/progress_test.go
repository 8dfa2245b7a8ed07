// ABOUTME: Tests for progress reporting
// ABOUTME: Verifies the no-op zero value and phase bookkeeping

package progress

import "testing"

func TestZeroValueIsNoop(t *testing.T) {
	var p Progress
	// Must not panic
	p.Enter("1.14.0", []string{"a"}, 0)
}

func TestRecorder(t *testing.T) {
	rec := &Recorder{}
	p := New(rec)

	phases := []string{"Read", "Write"}
	p.Enter("1.13.0", phases, 0)
	p.Enter("1.13.0", phases, 1)
	p.Enter("1.13.0", phases, 2) // out of range is ignored

	got := rec.Phases()
	if len(got) != 2 {
		t.Fatalf("Expected 2 phases, got %d", len(got))
	}
	want := Phase{Step: "1.13.0", Name: "Write", Index: 1, Total: 2}
	if got[1] != want {
		t.Errorf("Expected %+v, got %+v", want, got[1])
	}
}

func TestSinkFunc(t *testing.T) {
	var names []string
	p := New(SinkFunc(func(ph Phase) { names = append(names, ph.Name) }))
	p.Enter("s", []string{"only"}, 0)

	if len(names) != 1 || names[0] != "only" {
		t.Errorf("Unexpected reports %v", names)
	}
}
