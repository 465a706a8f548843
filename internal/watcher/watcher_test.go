package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Swatto86/LogSleuth/internal/progress"
	"github.com/Swatto86/LogSleuth/pkg/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = MinPollInterval
	return cfg
}

func startSession(t *testing.T, cfg Config, root string, known []types.DiscoveredFile) *Session {
	t.Helper()
	sess := New(cfg, nil).Start(context.Background(), root, known)
	t.Cleanup(func() {
		sess.Stop()
		<-sess.Done()
	})
	return sess
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// knownEntry builds the known-set entry for an existing file with its
// current modification time, the way a scan's discovery records it.
func knownEntry(t *testing.T, path string) types.DiscoveredFile {
	t.Helper()
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
	mt := fi.ModTime().UTC()
	return types.DiscoveredFile{Path: path, Size: fi.Size(), Modified: &mt}
}

// awaitNewFiles consumes messages until want new files have arrived.
func awaitNewFiles(t *testing.T, sess *Session, want int) []types.DiscoveredFile {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var files []types.DiscoveredFile
	for len(files) < want {
		msg, err := sess.Progress().Next(ctx)
		if err != nil {
			t.Fatalf("waiting for %d new files, have %d: %v", want, len(files), err)
		}
		if nf, ok := msg.(types.WatchNewFiles); ok {
			files = append(files, nf.Files...)
		}
	}
	return files
}

func awaitChanged(t *testing.T, sess *Session) []types.DiscoveredFile {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		msg, err := sess.Progress().Next(ctx)
		if err != nil {
			t.Fatalf("waiting for changed files: %v", err)
		}
		if ch, ok := msg.(types.WatchFilesChanged); ok {
			return ch.Files
		}
	}
}

func stopAndDrain(t *testing.T, sess *Session) []types.WatchProgress {
	t.Helper()
	sess.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var msgs []types.WatchProgress
	for {
		msg, err := sess.Progress().Next(ctx)
		if err != nil {
			if errors.Is(err, progress.ErrQueueClosed) {
				return msgs
			}
			t.Fatalf("Next() error = %v", err)
		}
		msgs = append(msgs, msg)
	}
}

func TestWatchReportsNewFilesOnce(t *testing.T) {
	root := t.TempDir()
	existing := writeFile(t, root, "existing.log", "settled content\n")
	fresh := writeFile(t, root, "fresh.log", "new content\n")
	writeFile(t, root, "skipped.tmp", "excluded by pattern\n")

	sess := startSession(t, testConfig(), root, []types.DiscoveredFile{
		knownEntry(t, existing),
	})

	files := awaitNewFiles(t, sess, 1)
	if files[0].Path != fresh {
		t.Fatalf("new file = %q, want %q", files[0].Path, fresh)
	}
	if files[0].Modified == nil {
		t.Error("new file Modified is nil")
	}

	// Let at least one more poll run; the file must not be re-reported
	// and the excluded one must never appear.
	time.Sleep(MinPollInterval + 500*time.Millisecond)
	for _, msg := range stopAndDrain(t, sess) {
		if nf, ok := msg.(types.WatchNewFiles); ok {
			t.Fatalf("unexpected WatchNewFiles after first report: %v", nf.Files)
		}
	}
}

func TestWatchEmptyKnownReportsEverything(t *testing.T) {
	root := t.TempDir()
	a := writeFile(t, root, "a.log", "aa\n")
	b := writeFile(t, root, "b.log", "bb\n")

	sess := startSession(t, testConfig(), root, nil)

	files := awaitNewFiles(t, sess, 2)
	got := map[string]bool{}
	for _, f := range files {
		got[f.Path] = true
	}
	if !got[a] || !got[b] {
		t.Fatalf("new files = %v, want both %q and %q", files, a, b)
	}
}

func TestWatchReportsChangedFiles(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "app.log", "original content\n")

	stale := time.Now().Add(-time.Hour).UTC()
	known := types.DiscoveredFile{
		Path:      path,
		Size:      4,
		Modified:  &stale,
		ProfileID: "veeam-vbr",
	}
	sess := startSession(t, testConfig(), root, []types.DiscoveredFile{known})

	changed := awaitChanged(t, sess)
	if len(changed) != 1 || changed[0].Path != path {
		t.Fatalf("changed = %v, want just %q", changed, path)
	}
	if changed[0].Modified == nil || !changed[0].Modified.After(stale) {
		t.Errorf("Modified = %v, want refreshed past %v", changed[0].Modified, stale)
	}
	if changed[0].Size == 4 {
		t.Error("Size was not refreshed")
	}
	if changed[0].ProfileID != "veeam-vbr" {
		t.Errorf("ProfileID = %q, want detection result preserved", changed[0].ProfileID)
	}

	// The refreshed mtime is now the recorded one; the next poll must
	// not report the file again.
	time.Sleep(MinPollInterval + 500*time.Millisecond)
	for _, msg := range stopAndDrain(t, sess) {
		if ch, ok := msg.(types.WatchFilesChanged); ok {
			t.Fatalf("unexpected WatchFilesChanged after refresh: %v", ch.Files)
		}
	}
}

func TestWatchBatchesDuringWalk(t *testing.T) {
	root := t.TempDir()
	names := []string{"a.log", "b.log", "c.log", "d.log", "e.log"}
	for _, n := range names {
		writeFile(t, root, n, "line\n")
	}

	cfg := testConfig()
	cfg.BatchSize = 2
	sess := startSession(t, cfg, root, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var batches []int
	total := 0
	for total < len(names) {
		msg, err := sess.Progress().Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if nf, ok := msg.(types.WatchNewFiles); ok {
			batches = append(batches, len(nf.Files))
			total += len(nf.Files)
		}
	}

	if len(batches) < 3 {
		t.Fatalf("batches = %v, want the walk to flush incrementally", batches)
	}
	for _, n := range batches {
		if n > cfg.BatchSize {
			t.Fatalf("batch of %d exceeds size %d", n, cfg.BatchSize)
		}
	}
}

func TestWatchStopClosesQueue(t *testing.T) {
	root := t.TempDir()
	sess := startSession(t, testConfig(), root, nil)

	msgs := stopAndDrain(t, sess)
	if len(msgs) == 0 {
		t.Fatal("no messages after Stop")
	}
	if _, ok := msgs[len(msgs)-1].(types.WatchStopped); !ok {
		t.Fatalf("last message = %T, want WatchStopped", msgs[len(msgs)-1])
	}

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() not closed after Stop")
	}
}

func TestWatchSurvivesMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "not-yet")

	sess := startSession(t, testConfig(), root, nil)

	// The first poll fails; creating the root afterwards lets a later
	// poll succeed.
	if err := os.Mkdir(root, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeFile(t, root, "late.log", "appeared later\n")

	files := awaitNewFiles(t, sess, 1)
	if filepath.Base(files[0].Path) != "late.log" {
		t.Fatalf("new file = %q, want late.log", files[0].Path)
	}
}

func TestMtimeMoved(t *testing.T) {
	t1 := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)

	tests := []struct {
		name     string
		recorded *time.Time
		current  *time.Time
		want     bool
	}{
		{"both nil", nil, nil, false},
		{"becomes known", nil, &t1, true},
		{"becomes unknown", &t1, nil, true},
		{"unchanged", &t1, &t1, false},
		{"moved", &t1, &t2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mtimeMoved(tt.recorded, tt.current); got != tt.want {
				t.Errorf("mtimeMoved() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}

	fast := Config{PollInterval: time.Millisecond}.withDefaults()
	if fast.PollInterval != MinPollInterval {
		t.Errorf("PollInterval = %v, want clamped to %v", fast.PollInterval, MinPollInterval)
	}
	slow := Config{PollInterval: time.Hour}.withDefaults()
	if slow.PollInterval != MaxPollInterval {
		t.Errorf("PollInterval = %v, want clamped to %v", slow.PollInterval, MaxPollInterval)
	}
}
