package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

const testDebounce = 150 * time.Millisecond

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func startWatcher(t *testing.T, roots []string, onChange func()) *Watcher {
	t.Helper()
	w := NewWatcher(roots, CatalogExtensions, onChange, WithDebounce(testDebounce))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_DebouncesBurstIntoOneCallback(t *testing.T) {
	dir := t.TempDir()
	scene := filepath.Join(dir, "s1")
	if err := mkdirAll(scene); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	startWatcher(t, []string{dir}, func() { calls.Add(1) })

	for _, name := range []string{"1.jpg", "2.jpg", "3.png"} {
		if err := writeFile(filepath.Join(scene, name), "x"); err != nil {
			t.Fatal(err)
		}
	}
	if !waitFor(2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Fatal("expected a change callback")
	}
	time.Sleep(3 * testDebounce)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected exactly one callback for the burst, got %d", got)
	}
}

func TestWatcher_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, []string{dir}, func() { calls.Add(1) })

	if err := writeFile(filepath.Join(dir, "notes.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(4 * testDebounce)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no callback for .txt, got %d", got)
	}
}

func TestWatcher_MetadataChange(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "scenes.csv")
	if err := writeFile(csvPath, "scene_id\n"); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	startWatcher(t, []string{dir}, func() { calls.Add(1) })

	if err := writeFile(csvPath, "scene_id\ns1\n"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Error("expected a callback after metadata write")
	}
}

func TestWatcher_NewSceneDirectory(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	startWatcher(t, []string{dir}, func() { calls.Add(1) })

	scene := filepath.Join(dir, "new-scene")
	if err := mkdirAll(scene); err != nil {
		t.Fatal(err)
	}
	// Give the watcher time to add the new directory before writing into it.
	time.Sleep(50 * time.Millisecond)
	if err := writeFile(filepath.Join(scene, "a.jpeg"), "x"); err != nil {
		t.Fatal(err)
	}
	if !waitFor(2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Error("expected a callback for an image in a new scene directory")
	}
}

func TestWatcher_RemovedSceneDirectory(t *testing.T) {
	dir := t.TempDir()
	scene := filepath.Join(dir, "gone")
	if err := mkdirAll(scene); err != nil {
		t.Fatal(err)
	}
	var calls atomic.Int32
	startWatcher(t, []string{dir}, func() { calls.Add(1) })

	if err := os.RemoveAll(scene); err != nil {
		t.Fatal(err)
	}
	if !waitFor(2*time.Second, func() bool { return calls.Load() >= 1 }) {
		t.Error("expected a callback after removing a scene directory")
	}
}

func TestWatcher_StopCancelsPending(t *testing.T) {
	dir := t.TempDir()
	var calls atomic.Int32
	w := NewWatcher([]string{dir}, CatalogExtensions, func() { calls.Add(1) }, WithDebounce(time.Second))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "a.jpg"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	w.Stop()
	time.Sleep(1200 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Errorf("expected no callback after Stop, got %d", got)
	}
	w.Stop()
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "watch", "me")

	w := NewWatcher([]string{root}, CatalogExtensions, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_RunReturnsOnCancel(t *testing.T) {
	w := NewWatcher([]string{t.TempDir()}, CatalogExtensions, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCollapseRoots(t *testing.T) {
	got := collapseRoots([]string{"/data/vpr/scenes", "/data/vpr", "", "/data/vpr", "/other"})
	want := []string{"/data/vpr", "/other"}
	if len(got) != len(want) {
		t.Fatalf("collapseRoots = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("collapseRoots[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.jpg", CatalogExtensions, true},
		{"/a/b.JPEG", CatalogExtensions, true},
		{"/a/scenes.csv", CatalogExtensions, true},
		{"/a/b.md", CatalogExtensions, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.jpg", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}
