package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/wpp-archive/internal/bus"
	"github.com/matheus3301/wpp-archive/internal/reconcile"
)

type fakeRunner struct {
	runs chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(chan struct{}, 16)}
}

func (f *fakeRunner) Run(ctx context.Context) (*reconcile.Report, error) {
	f.runs <- struct{}{}
	return &reconcile.Report{}, nil
}

func (f *fakeRunner) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciliation did not run")
	}
}

func (f *fakeRunner) none(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case <-f.runs:
		t.Fatal("unexpected reconciliation")
	case <-time.After(within):
	}
}

func TestTrigger(t *testing.T) {
	r := newFakeRunner()
	s := New(r, nil, nil, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	s.Trigger()
	r.wait(t)
	if s.Last() == nil {
		t.Error("Last() is nil after a run")
	}
}

func TestRunsAfterSave(t *testing.T) {
	tests := []struct {
		name      string
		afterSave bool
	}{
		{"enabled", true},
		{"disabled", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bus.New()
			r := newFakeRunner()
			s := New(r, b, nil, Options{AfterSave: tt.afterSave})
			if err := s.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			defer s.Stop()

			b.Emit(bus.KindArchiveSaved, nil)
			if tt.afterSave {
				r.wait(t)
			} else {
				r.none(t, 50*time.Millisecond)
			}
		})
	}
}

func TestRunsOnInterval(t *testing.T) {
	r := newFakeRunner()
	s := New(r, nil, nil, Options{Interval: 10 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	r.wait(t)
	r.wait(t)
}

func TestWatchRunsOnRemoval(t *testing.T) {
	root := filepath.Join(t.TempDir(), "media")
	dir := filepath.Join(root, "Family_3", "2024-06-01")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	file := filepath.Join(dir, "10-00-00_pho_3_alb_1.jpg")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := newFakeRunner()
	s := New(r, nil, nil, Options{Watch: true, Root: root, Debounce: 20 * time.Millisecond})
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	staging := filepath.Join(dir, ".10-00-00_vid_3_alb_2.mp4.tmp-7")
	if err := os.WriteFile(staging, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(staging); err != nil {
		t.Fatal(err)
	}
	r.none(t, 100*time.Millisecond)

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	r.wait(t)
}

func TestStopWithoutStart(t *testing.T) {
	s := New(newFakeRunner(), nil, nil, Options{})
	s.Stop()
}
