package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDebouncesBurstsIntoOneTrigger(t *testing.T) {
	dir := t.TempDir()
	w, err := New(100 * time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	path := filepath.Join(dir, "export.json")
	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(`{"docs":[]}`), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case trig := <-w.Triggers():
		if filepath.Base(trig.Path) != "export.json" {
			t.Errorf("trigger path = %s", trig.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no trigger after burst")
	}

	// The burst collapses to a single trigger.
	select {
	case trig := <-w.Triggers():
		t.Errorf("unexpected second trigger: %+v", trig)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherIgnoresNonJSON(t *testing.T) {
	dir := t.TempDir()
	w, err := New(50 * time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case trig := <-w.Triggers():
		t.Errorf("unexpected trigger for non-json file: %+v", trig)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	w, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(t.TempDir()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// Stop must not close the trigger channel while a fired debounce timer
// still has a callback in flight; the callback's send would panic.
func TestWatcherStopWithFiringTimers(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 50; i++ {
		w, err := New(time.Millisecond)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := w.Start(dir); err != nil {
			t.Fatalf("Start: %v", err)
		}
		for j := 0; j < 8; j++ {
			w.schedule(filepath.Join(dir, fmt.Sprintf("export-%d.json", j)))
		}
		time.Sleep(time.Millisecond)
		if err := w.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
}

func TestWatcherStartTwice(t *testing.T) {
	w, err := New(0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dir := t.TempDir()
	if err := w.Start(dir); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	if err := w.Start(dir); err == nil {
		t.Error("expected error starting a running watcher")
	}
}
