package manager

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videoDownloader/internal/apperr"
	"videoDownloader/internal/extractor"
	"videoDownloader/internal/metrics"
	"videoDownloader/internal/models"
	"videoDownloader/internal/store"
	"videoDownloader/internal/testutil"
)

const testURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	mgr    *Manager
	dir    string
	mu     sync.Mutex
	events []models.ProgressEvent
}

func (h *harness) recorded(id string) []models.ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.ProgressEvent
	for _, e := range h.events {
		if e.ID == id {
			out = append(out, e)
		}
	}
	return out
}

func newHarness(t *testing.T, tool string, cfg Config) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var opts []store.Option
	if cfg.Now != nil {
		opts = append(opts, store.WithClock(cfg.Now))
	}
	if cfg.Retention > 0 {
		opts = append(opts, store.WithRetention(cfg.Retention))
	}
	st, err := store.NewStore(store.StoreTypeMemory, opts...)
	require.NoError(t, err)

	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	if cfg.Silence == 0 {
		cfg.Silence = time.Hour
	}

	svc := extractor.NewService(logger, extractor.Options{Command: tool, WaitDelay: time.Second})
	h := &harness{dir: cfg.OutputDir}
	h.mgr = New(logger, st, svc, metrics.New(), cfg)
	h.mgr.SetUpdateCallback(func(e models.ProgressEvent) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.mgr.Shutdown(ctx)
		_ = st.Close()
	})
	return h
}

func waitTerminal(t *testing.T, m *Manager, id string) models.ProgressEvent {
	t.Helper()
	var last models.ProgressEvent
	require.Eventually(t, func() bool {
		evt, err := m.Progress(context.Background(), id)
		if err != nil {
			return false
		}
		last = evt
		return evt.Status.IsTerminal()
	}, 10*time.Second, 10*time.Millisecond)
	return last
}

func filesFor(t *testing.T, dir, id string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, id+".*"))
	require.NoError(t, err)
	return matches
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t, "/nonexistent/yt-dlp", Config{})

	cases := []struct {
		name    string
		url     string
		quality string
	}{
		{"missing url", "", "720p"},
		{"missing quality", testURL, ""},
		{"unsupported domain", "https://example.com/video", "720p"},
		{"unknown quality", testURL, "4k"},
		{"not http", "ftp://youtube.com/x", "720p"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.mgr.Create(context.Background(), tc.url, tc.quality)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, h.mgr.Active())
}

func TestDownload_Completes(t *testing.T) {
	tool := testutil.FakeTool(t, `
echo "[download] Destination: $file"
echo "[download]  12.5% of 10.00MiB at 1.00MiB/s ETA 00:09"
echo "[download]  30.0% of 10.00MiB at 1.00MiB/s ETA 00:07"
echo "[download]  20.0% of 10.00MiB at 1.00MiB/s ETA 00:08"
echo "[download] 100% of 10.00MiB in 00:10"
printf 'video-bytes' > "$file"
exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.Equal(t, 100.0, final.Progress)
	assert.Equal(t, "/api/download/"+id, final.DownloadURL)

	rec, err := h.mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, id+".mp4"), rec.ArtifactPath)
	assert.Equal(t, "video/mp4", rec.ContentType)
	assert.Equal(t, "video_720p.mp4", rec.Filename)

	events := h.recorded(id)
	require.NotEmpty(t, events)
	prev := 0.0
	for _, e := range events {
		assert.GreaterOrEqual(t, e.Progress, prev, "progress went backwards")
		prev = e.Progress
	}
	assert.Equal(t, models.StatusCompleted, events[len(events)-1].Status)
	assert.Eventually(t, func() bool { return h.mgr.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestDownload_DifferentExtension(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'partial' > "$base.f251.webm.part"
rm "$base.f251.webm.part"
printf 'audio' > "$base.webm"
exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "audio")
	require.NoError(t, err)

	final := waitTerminal(t, h.mgr, id)
	require.Equal(t, models.StatusCompleted, final.Status)
	rec, err := h.mgr.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.dir, id+".webm"), rec.ArtifactPath)
}

func TestDownload_NonZeroExitRemovesPartials(t *testing.T) {
	tool := testutil.FakeTool(t, `
echo "[download]  40.0% of 10.00MiB"
printf 'x' > "$base.f137.mp4.part"
printf 'x' > "$base.f140.m4a"
echo "ERROR: [youtube] abc: Requested format is not available" >&2
exit 1`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "1080p")
	require.NoError(t, err)

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "exited with code 1")
	assert.Contains(t, final.Error, "Requested format is not available")
	assert.Empty(t, filesFor(t, h.dir, id))
}

func TestDownload_ExitWithoutFile(t *testing.T) {
	tool := testutil.FakeTool(t, `exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "360p")
	require.NoError(t, err)

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "no output file")
}

func TestDownload_MissingTool(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "missing-yt-dlp"), Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "failed to start yt-dlp")
}

func TestDownload_Timeout(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'x' > "$base.mp4.part"
exec sleep 30`)
	h := newHarness(t, tool, Config{DownloadTimeout: 200 * time.Millisecond})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusError, final.Status)
	assert.Contains(t, final.Error, "timed out")
	assert.Empty(t, filesFor(t, h.dir, id))
}

func TestDownload_SimulatedProgressStopsAtNinety(t *testing.T) {
	tool := testutil.FakeTool(t, `
echo "[download] Destination: $file"
exec sleep 30`)
	h := newHarness(t, tool, Config{
		TickInterval: 10 * time.Millisecond,
		Silence:      30 * time.Millisecond,
	})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		evt, err := h.mgr.Progress(context.Background(), id)
		return err == nil && evt.Progress == 90
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	evt, err := h.mgr.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 90.0, evt.Progress)
	assert.Equal(t, models.StatusDownloading, evt.Status)

	var seen []float64
	for _, e := range h.recorded(id) {
		if e.Progress > 5 {
			seen = append(seen, e.Progress)
		}
	}
	assert.Equal(t, []float64{25, 50, 75, 90}, seen)
}

func TestDownload_RealOutputHoldsSimulation(t *testing.T) {
	tool := testutil.FakeTool(t, `
echo "[download] Destination: $file"
sleep 0.4
i=0
while [ $i -lt 80 ]; do
  echo "[download]  12.0% of 10.00MiB at 1.00MiB/s ETA 00:09"
  sleep 0.05
  i=$((i+1))
done
exec sleep 30`)
	h := newHarness(t, tool, Config{
		TickInterval: 50 * time.Millisecond,
		Silence:      300 * time.Millisecond,
	})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	time.Sleep(2 * time.Second)
	evt, err := h.mgr.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, evt.Status)
	assert.LessOrEqual(t, evt.Progress, 50.0, "simulation ran while the tool kept reporting")
}

func TestDownload_PostProcessingHoldsAtHundred(t *testing.T) {
	tool := testutil.FakeTool(t, `
echo "[download] 100.0% of   10.00MiB at    5.00MiB/s ETA 00:00"
echo "[Merger] Merging formats into \"$file\""
sleep 0.5
printf 'video-bytes' > "$file"
exit 0`)
	h := newHarness(t, tool, Config{
		TickInterval: 10 * time.Millisecond,
		Silence:      30 * time.Millisecond,
	})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		evt, err := h.mgr.Progress(context.Background(), id)
		return err == nil && evt.Progress == 100
	}, 5*time.Second, 10*time.Millisecond)
	evt, err := h.mgr.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloading, evt.Status, "status waits for the exit")

	final := waitTerminal(t, h.mgr, id)
	assert.Equal(t, models.StatusCompleted, final.Status)

	var progressEvents int
	for _, e := range h.recorded(id) {
		if e.Status == models.StatusDownloading && e.Progress > 0 {
			progressEvents++
		}
	}
	assert.Equal(t, 1, progressEvents)
}

func TestShutdown_FailsRunningSessions(t *testing.T) {
	tool := testutil.FakeTool(t, `exec sleep 30`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.mgr.Shutdown(ctx))

	evt, err := h.mgr.Progress(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, evt.Status)
	assert.Contains(t, evt.Error, "shutdown")

	_, err = h.mgr.Create(context.Background(), testURL, "720p")
	assert.Error(t, err)
}

func TestRetrieve_DeliversOnce(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'video-bytes' > "$file"
exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "480p")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, waitTerminal(t, h.mgr, id).Status)

	a, err := h.mgr.Retrieve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "video/mp4", a.ContentType)
	assert.Equal(t, "video_480p.mp4", a.Filename)
	assert.Equal(t, int64(len("video-bytes")), a.Size)

	_, err = h.mgr.Retrieve(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "in-flight retrieval must hide the session")

	body, err := io.ReadAll(a)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(body))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Empty(t, filesFor(t, h.dir, id))
	_, err = h.mgr.Retrieve(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.mgr.Progress(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRetrieve_Concurrent(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'video-bytes' > "$file"
exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "480p")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, waitTerminal(t, h.mgr, id).Status)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *Artifact, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a, err := h.mgr.Retrieve(context.Background(), id); err == nil {
				results <- a
			}
		}()
	}
	wg.Wait()
	close(results)

	var got []*Artifact
	for a := range results {
		got = append(got, a)
	}
	require.Len(t, got, 1)
	require.NoError(t, got[0].Close())
}

func TestRetrieve_NotReadyAndUnknown(t *testing.T) {
	tool := testutil.FakeTool(t, `exec sleep 30`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)

	_, err = h.mgr.Retrieve(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotReady), "got %v", err)

	_, err = h.mgr.Retrieve(context.Background(), "does-not-exist")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRetrieve_MissingFile(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'video-bytes' > "$file"
exit 0`)
	h := newHarness(t, tool, Config{})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, waitTerminal(t, h.mgr, id).Status)
	require.NoError(t, os.Remove(filepath.Join(h.dir, id+".mp4")))

	_, err = h.mgr.Retrieve(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.mgr.Get(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCleanup_RemovesExpiredSessions(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'video-bytes' > "$file"
exit 0`)
	clk := &clock{now: time.Now()}
	h := newHarness(t, tool, Config{Now: clk.Now, Retention: 24 * time.Hour})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, waitTerminal(t, h.mgr, id).Status)

	stray := filepath.Join(h.dir, "orphan.mp4")
	require.NoError(t, os.WriteFile(stray, []byte("x"), 0o644))

	h.mgr.Cleanup(context.Background())
	assert.Len(t, filesFor(t, h.dir, id), 1, "fresh sessions are kept")
	assert.FileExists(t, stray)

	clk.Advance(25 * time.Hour)
	h.mgr.Cleanup(context.Background())

	assert.Empty(t, filesFor(t, h.dir, id))
	assert.NoFileExists(t, stray)
	_, err = h.mgr.Progress(context.Background(), id)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCleanup_KillsExpiredRun(t *testing.T) {
	tool := testutil.FakeTool(t, `
printf 'x' > "$base.mp4.part"
exec sleep 30`)
	clk := &clock{now: time.Now()}
	h := newHarness(t, tool, Config{Now: clk.Now, Retention: time.Hour})

	id, err := h.mgr.Create(context.Background(), testURL, "720p")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(filesFor(t, h.dir, id)) == 1 }, 5*time.Second, 10*time.Millisecond)

	clk.Advance(2 * time.Hour)
	h.mgr.Cleanup(context.Background())

	require.Eventually(t, func() bool { return h.mgr.Active() == 0 }, 5*time.Second, 10*time.Millisecond)
	assert.Empty(t, filesFor(t, h.dir, id))
}
