package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"call-insights-go/internal/processor"
	"call-insights-go/internal/queue"
)

type fakeProcessor struct {
	mu     sync.Mutex
	calls  []string
	remove bool
	done   chan string
}

func (f *fakeProcessor) ProcessFile(ctx context.Context, path string) processor.Result {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(path))
	f.mu.Unlock()
	if f.remove {
		_ = os.Remove(path)
	}
	if f.done != nil {
		f.done <- filepath.Base(path)
	}
	return processor.Result{Filename: filepath.Base(path), Outcome: processor.OutcomeCompleted}
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type knownSet map[string]bool

func (k knownSet) Exists(ctx context.Context, filename string) bool { return k[filename] }

func testOptions(dir string) Options {
	return Options{
		Dir:           dir,
		StableFor:     20 * time.Millisecond,
		StableTimeout: 300 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
		MaxFileSize:   1024,
		EnqueueWindow: 100 * time.Millisecond,
	}
}

func startQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q := queue.New(16, 2, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	q.Start(ctx)
	return q
}

func writeFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func waitFor(t *testing.T, ch <-chan string, n int) []string {
	t.Helper()
	var got []string
	for len(got) < n {
		select {
		case name := <-ch:
			got = append(got, name)
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out after %d of %d files: %v", len(got), n, got)
		}
	}
	return got
}

func TestScanExistingSkipsKnownAndUnsupported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp3", 10)
	writeFile(t, dir, "b.wav", 10)
	writeFile(t, dir, "known.mp3", 10)
	writeFile(t, dir, "notes.txt", 10)
	if err := os.Mkdir(filepath.Join(dir, "sub.mp3"), 0o755); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{remove: true, done: make(chan string, 8)}
	w := New(testOptions(dir), proc, startQueue(t), knownSet{"known.mp3": true}, nil)
	if n := w.ScanExisting(context.Background()); n != 2 {
		t.Fatalf("dispatched %d, want 2", n)
	}
	got := waitFor(t, proc.done, 2)
	seen := map[string]bool{}
	for _, name := range got {
		seen[name] = true
	}
	if !seen["a.mp3"] || !seen["b.wav"] {
		t.Fatalf("processed %v", got)
	}
}

func TestScanExistingStaggers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.mp3", 10)
	writeFile(t, dir, "b.mp3", 10)
	writeFile(t, dir, "c.mp3", 10)

	opts := testOptions(dir)
	opts.StartupStagger = 50 * time.Millisecond
	proc := &fakeProcessor{remove: true, done: make(chan string, 8)}
	w := New(opts, proc, startQueue(t), nil, nil)

	start := time.Now()
	w.ScanExisting(context.Background())
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("scan of 3 files took %s, want at least two stagger delays", elapsed)
	}
	waitFor(t, proc.done, 3)
}

func TestClaimKeptOnlyWhenFileMoved(t *testing.T) {
	dir := t.TempDir()
	moved := writeFile(t, dir, "moved.mp3", 10)
	stays := writeFile(t, dir, "stays.mp3", 10)

	removing := &fakeProcessor{remove: true, done: make(chan string, 1)}
	w := New(testOptions(dir), removing, startQueue(t), nil, nil)
	w.claim(moved)
	w.dispatch(context.Background(), moved)
	waitFor(t, removing.done, 1)

	keeping := &fakeProcessor{done: make(chan string, 1)}
	w2 := New(testOptions(dir), keeping, startQueue(t), nil, nil)
	w2.claim(stays)
	w2.dispatch(context.Background(), stays)
	waitFor(t, keeping.done, 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if w.Status().ClaimedCount == 1 && w2.Status().ClaimedCount == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("claims: moved=%d stays=%d", w.Status().ClaimedCount, w2.Status().ClaimedCount)
}

func TestSizeGuards(t *testing.T) {
	dir := t.TempDir()
	empty := writeFile(t, dir, "empty.mp3", 0)
	large := writeFile(t, dir, "large.mp3", 2048)

	proc := &fakeProcessor{}
	w := New(testOptions(dir), proc, startQueue(t), nil, nil)
	for _, p := range []string{empty, large} {
		w.claim(p)
		w.dispatch(context.Background(), p)
	}
	time.Sleep(50 * time.Millisecond)
	if proc.callCount() != 0 {
		t.Fatalf("rejected files reached the processor: %v", proc.calls)
	}
	if st := w.Status(); st.ClaimedCount != 0 || st.Dispatched != 0 {
		t.Fatalf("status = %+v", st)
	}
}

func TestWaitStableTimesOutOnEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "zero.mp3", 0)
	w := New(testOptions(dir), &fakeProcessor{}, startQueue(t), nil, nil)

	start := time.Now()
	w.waitStable(context.Background(), path)
	elapsed := time.Since(start)
	if elapsed < 250*time.Millisecond || elapsed > 2*time.Second {
		t.Fatalf("waitStable returned after %s", elapsed)
	}
}

func TestWaitStableReturnsOnceSizeSettles(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "steady.mp3", 64)
	w := New(testOptions(dir), &fakeProcessor{}, startQueue(t), nil, nil)

	start := time.Now()
	w.waitStable(context.Background(), path)
	if elapsed := time.Since(start); elapsed >= 250*time.Millisecond {
		t.Fatalf("stable file waited %s", elapsed)
	}
}

func TestRunDispatchesNewFileOnce(t *testing.T) {
	dir := t.TempDir()
	proc := &fakeProcessor{remove: true, done: make(chan string, 4)}
	w := New(testOptions(dir), proc, startQueue(t), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !w.Status().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	path := filepath.Join(dir, "20250828_10300002m00s_5550001_answered_Agent.mp3")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(" second")
	f.Close()
	writeFile(t, dir, "ignored.txt", 10)

	waitFor(t, proc.done, 1)
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if proc.callCount() != 1 {
		t.Fatalf("processed %d times, want 1", proc.callCount())
	}
	if w.Status().Running {
		t.Fatalf("watcher still reports running")
	}
}
