package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/emberforge/questpilot/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
llm:
  name: openai
  model: gpt-4o
agents:
  - personality:
      name: Scout
`

const watcherDebugYAML = `
server:
  log_level: debug
llm:
  name: openai
  model: gpt-4o
agents:
  - personality:
      name: Scout
`

const watcherBrokenYAML = `
server:
  log_level: bananas
`

// changeRecorder collects watcher callbacks for assertions.
type changeRecorder struct {
	mu       sync.Mutex
	old, new *config.Config
	calls    int
	fired    chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 1)}
}

func (r *changeRecorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.old, r.new = old, new
	r.calls++
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
}

func (r *changeRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// startWatcher writes content to a temp config file, starts a fast-polling
// watcher on it, and returns both.
func startWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	rewrite(t, path, content)

	w, err := config.NewWatcher(path, onChange, config.WithInterval(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherBaseYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	time.Sleep(100 * time.Millisecond)
	rewrite(t, path, watcherDebugYAML)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	rec.mu.Lock()
	old, new := rec.old, rec.new
	rec.mu.Unlock()

	if old == nil || new == nil {
		t.Fatal("callback received nil configs")
	}
	if old.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level = %q, want %q", old.Server.LogLevel, config.LogInfo)
	}
	if new.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level = %q, want %q", new.Server.LogLevel, config.LogDebug)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level = %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	w, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	time.Sleep(100 * time.Millisecond)
	rewrite(t, path, watcherBrokenYAML)
	time.Sleep(300 * time.Millisecond)

	if n := rec.callCount(); n != 0 {
		t.Errorf("callback fired %d times for an invalid config, want 0", n)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
		t.Errorf("Current() should keep the old config, got log_level=%q", cur.Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	rec := newChangeRecorder()
	_, path := startWatcher(t, watcherBaseYAML, rec.onChange)

	time.Sleep(100 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := rec.callCount(); n != 0 {
		t.Errorf("callback fired %d times for a touch-only change, want 0", n)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherBaseYAML, nil)
	w.Stop()
	w.Stop()
}
