package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/stretchr/testify/require"
)

func historyLines(t *testing.T, h *recordingHarness, id string) []string {
	t.Helper()
	rows, err := h.store.History().ListByTask(context.Background(), id, 0)
	require.NoError(t, err)
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = r.Line
	}
	return lines
}

func TestStartRunsRecorderAndCompletes(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t1")

	specs := h.launcher.Specs()
	require.Len(t, specs, 1)
	require.Equal(t, "recorder", specs[0].Binary)
	require.Equal(t, []string{
		"https://live.example.com/t1.m3u8",
		"--save-dir", h.downloads,
		"--save-name", "t1",
		"--tmp-dir", h.temp,
	}, specs[0].Args)

	task := h.waitStatus(t, "t1", domain.TaskStatusRunning)
	require.Equal(t, "alice", task.Username)
	require.Equal(t, filepath.Join(h.downloads, "t1.mp4"), *task.OutputFile)
	require.Equal(t, filepath.Join(h.temp, "t1"), *task.TempDir)

	p.Say(t, "\x1b[32mVid 1080p 10.00MB / 1.20GB 3.5MBps\x1b[0m")
	require.Eventually(t, func() bool {
		got, err := h.svc.GetTask(context.Background(), "t1")
		return err == nil && got.FileSize == 10<<20
	}, time.Second, 5*time.Millisecond)

	writeFile(t, filepath.Join(h.downloads, "t1.mp4"), 2048)
	p.Exit(0)

	task = h.waitStatus(t, "t1", domain.TaskStatusCompleted)
	require.EqualValues(t, 10<<20, task.FileSize, "size never goes backwards")
	require.Equal(t, "Vid 1080p 10.00MB / 1.20GB 3.5MBps", task.LastOutput)
	require.Equal(t, []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusCompleted}, h.hub.Statuses("t1"))
	require.Contains(t, historyLines(t, h, "t1"), "recorder exited with code 0")
}

func TestStartRejectsBadInput(t *testing.T) {
	h := newRecordingHarness(t)

	_, err := h.svc.Start(context.Background(), ports.StartTaskInput{Username: "alice", URL: "   "})
	require.ErrorIs(t, err, ErrTaskInvalidInput)

	h.start(t, "dup")
	_, err = h.svc.Start(context.Background(), ports.StartTaskInput{ID: "dup", Username: "alice", URL: "https://x"})
	require.ErrorIs(t, err, ErrTaskExists)
	require.Len(t, h.launcher.Specs(), 1)
}

func TestStartGeneratesID(t *testing.T) {
	h := newRecordingHarness(t)
	id, err := h.svc.Start(context.Background(), ports.StartTaskInput{Username: "alice", URL: "https://x/live.m3u8"})
	require.NoError(t, err)
	require.Regexp(t, `^\d{13}-[0-9a-f]{8}$`, id)
}

func TestSpawnFailureMarksTaskFailed(t *testing.T) {
	h := newRecordingHarness(t)
	h.launcher.err = errSpawn

	id, err := h.svc.Start(context.Background(), ports.StartTaskInput{ID: "t4", Username: "alice", URL: "https://x"})
	require.ErrorIs(t, err, ErrTaskSpawnFailed)
	require.Equal(t, "t4", id)

	task := h.waitStatus(t, "t4", domain.TaskStatusFailed)
	require.Contains(t, task.LastOutput, "failed to start recorder")
	require.Equal(t, []domain.TaskStatus{domain.TaskStatusFailed}, h.hub.Statuses("t4"))

	// nothing to stop and no stdin to write to
	require.NoError(t, h.svc.Stop(context.Background(), "t4"))
	h.svc.SendInput("t4", "1")
}

func TestStopResolvesPausedOrFailed(t *testing.T) {
	cases := []struct {
		name     string
		artifact bool
		want     domain.TaskStatus
	}{
		{"artifact on disk", true, domain.TaskStatusPaused},
		{"no artifact", false, domain.TaskStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newRecordingHarness(t)
			p := h.start(t, "t2")
			if tc.artifact {
				writeFile(t, filepath.Join(h.downloads, "t2.ts"), 512)
			}

			require.NoError(t, h.svc.Stop(context.Background(), "t2"))
			waitExited(t, p)
			task := h.waitStatus(t, "t2", tc.want)

			require.Equal(t, 1, p.Kills())
			require.Equal(t, []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusStopped, tc.want}, h.hub.Statuses("t2"))
			if tc.artifact {
				require.Equal(t, filepath.Join(h.downloads, "t2.ts"), *task.OutputFile)
				require.EqualValues(t, 512, task.FileSize)
			}

			// stopping again is harmless
			require.NoError(t, h.svc.Stop(context.Background(), "t2"))
			require.Equal(t, 1, p.Kills())
		})
	}
}

func TestStopUnknownTask(t *testing.T) {
	h := newRecordingHarness(t)
	require.ErrorIs(t, h.svc.Stop(context.Background(), "missing"), ErrTaskNotFound)
}

func TestFinalNameAnnouncementRedirectsArtifact(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t3")

	p.Say(t, `Muxing to show_final.mkv`)
	writeFile(t, filepath.Join(h.downloads, "show_final.mkv"), 4096)
	p.Exit(0)

	task := h.waitStatus(t, "t3", domain.TaskStatusCompleted)
	require.Equal(t, filepath.Join(h.downloads, "show_final.mkv"), *task.OutputFile)
	require.EqualValues(t, 4096, task.FileSize)
}

func TestExitWithoutArtifactFails(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t7")
	p.Exit(0)
	h.waitStatus(t, "t7", domain.TaskStatusFailed)
	require.Equal(t, []domain.TaskStatus{domain.TaskStatusRunning, domain.TaskStatusFailed}, h.hub.Statuses("t7"))
}

func TestSendInput(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t5")

	h.svc.SendInput("t5", "2\r\n")
	h.svc.SendInput("t5", "y")
	require.Equal(t, "2\ny\n", p.stdin.String())

	h.svc.SendInput("unknown", "1")

	p.Exit(0)
	h.waitStatus(t, "t5", domain.TaskStatusFailed)
	h.svc.SendInput("t5", "late")
	require.Equal(t, "2\ny\n", p.stdin.String())
}

func TestDeleteLiveTaskSkipsExitHandler(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t6")
	output := filepath.Join(h.downloads, "t6.mp4")
	work := filepath.Join(h.temp, "t6")
	writeFile(t, output, 100)
	writeFile(t, filepath.Join(work, "seg0.ts"), 100)
	p.Say(t, "progress 1.00MB")

	require.NoError(t, h.svc.Delete(context.Background(), "t6"))
	waitExited(t, p)

	_, err := h.svc.GetTask(context.Background(), "t6")
	require.ErrorIs(t, err, ErrTaskNotFound)
	require.Empty(t, historyLines(t, h, "t6"))
	_, live := h.registry.Get("t6")
	require.False(t, live)
	requireGone(t, output)
	requireGone(t, work)
	require.Equal(t, []domain.TaskStatus{domain.TaskStatusRunning}, h.hub.Statuses("t6"))

	require.ErrorIs(t, h.svc.Delete(context.Background(), "t6"), ErrTaskNotFound)
}

func TestDeleteRacingExit(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newRecordingHarness(t)
		p := h.start(t, "race")
		writeFile(t, filepath.Join(h.downloads, "race.mp4"), 10)

		var wg sync.WaitGroup
		var deleteErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.Exit(0)
		}()
		go func() {
			defer wg.Done()
			deleteErr = h.svc.Delete(context.Background(), "race")
		}()
		wg.Wait()
		require.NoError(t, deleteErr)

		_, err := h.store.Tasks().GetByID(context.Background(), "race")
		require.ErrorIs(t, err, ports.ErrNotFound)
		requireGone(t, filepath.Join(h.downloads, "race.mp4"))
		require.LessOrEqual(t, len(h.hub.Statuses("race")), 2)
	}
}

func startGated(t *testing.T, h *recordingHarness, id string) (*gatedLauncher, <-chan error) {
	t.Helper()
	gate := newGatedLauncher(h.launcher)
	h.svc.launcher = gate
	started := make(chan error, 1)
	go func() {
		_, err := h.svc.Start(context.Background(), ports.StartTaskInput{ID: id, Username: "alice", URL: "https://live.example.com/" + id + ".m3u8"})
		started <- err
	}()
	<-gate.entered
	return gate, started
}

func TestDeleteDuringLaunchKillsRecorder(t *testing.T) {
	h := newRecordingHarness(t)
	ctx := context.Background()
	gate, started := startGated(t, h, "launching")

	require.NoError(t, h.svc.Delete(ctx, "launching"))
	close(gate.release)
	require.NoError(t, <-started)

	procs := h.launcher.Procs()
	require.Len(t, procs, 1)
	waitExited(t, procs[0])
	require.Equal(t, 1, procs[0].Kills())

	_, err := h.store.Tasks().GetByID(ctx, "launching")
	require.ErrorIs(t, err, ports.ErrNotFound)
	_, live := h.registry.Get("launching")
	require.False(t, live)
	require.Empty(t, h.hub.Statuses("launching"))
}

func TestStopDuringLaunchKillsRecorder(t *testing.T) {
	h := newRecordingHarness(t)
	gate, started := startGated(t, h, "launching")

	require.NoError(t, h.svc.Stop(context.Background(), "launching"))
	h.waitStatus(t, "launching", domain.TaskStatusStopped)
	close(gate.release)
	require.NoError(t, <-started)

	procs := h.launcher.Procs()
	require.Len(t, procs, 1)
	waitExited(t, procs[0])
	require.Equal(t, 1, procs[0].Kills())

	h.waitStatus(t, "launching", domain.TaskStatusFailed)
	require.Eventually(t, func() bool {
		return len(h.hub.Statuses("launching")) == 2
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []domain.TaskStatus{domain.TaskStatusStopped, domain.TaskStatusFailed}, h.hub.Statuses("launching"))
}

func TestStatusNeverLeavesTerminalState(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "done")
	writeFile(t, filepath.Join(h.downloads, "done.mp4"), 10)
	p.Exit(0)
	h.waitStatus(t, "done", domain.TaskStatusCompleted)

	at, ok := h.registry.Get("done")
	require.True(t, ok)
	at.transition.Lock()
	require.False(t, h.svc.setStatus(at, domain.TaskStatusStopped))
	require.False(t, h.svc.setStatus(at, domain.TaskStatusRunning))
	at.transition.Unlock()

	require.NoError(t, h.svc.Stop(context.Background(), "done"))
	task := h.waitStatus(t, "done", domain.TaskStatusCompleted)
	require.Equal(t, domain.TaskStatusCompleted, task.Status)
	require.Equal(t, domain.TaskStatusCompleted, at.Status())
}

func TestHistoryPersistedAndLimited(t *testing.T) {
	h := newRecordingHarness(t)
	p := h.start(t, "t8")
	for _, line := range []string{"one", "two", "three"} {
		p.Say(t, line)
	}
	require.Eventually(t, func() bool { return len(historyLines(t, h, "t8")) == 3 }, time.Second, 5*time.Millisecond)

	rows, err := h.svc.History(context.Background(), "t8", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "two", rows[0].Line)
	require.Equal(t, "three", rows[1].Line)
	lines, seq := h.registry.HistorySnapshot("t8")
	require.Equal(t, []string{"one", "two", "three"}, lines)
	require.Equal(t, uint64(3), seq)

	_, err = h.svc.History(context.Background(), "missing", 0)
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCompletedArtifactIsExported(t *testing.T) {
	h := newRecordingHarness(t)
	exp := &fakeExporter{}
	h.svc.exporter = exp

	p := h.start(t, "t9")
	writeFile(t, filepath.Join(h.downloads, "t9.mp4"), 10)
	p.Exit(0)
	h.waitStatus(t, "t9", domain.TaskStatusCompleted)

	require.Eventually(t, func() bool { return len(exp.Paths()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, filepath.Join(h.downloads, "t9.mp4"), exp.Paths()[0])
	require.Eventually(t, func() bool {
		for _, l := range historyLines(t, h, "t9") {
			if strings.HasPrefix(l, "exported to ") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestExportIsCancelledOnShutdown(t *testing.T) {
	h := newRecordingHarness(t)
	exp := newBlockingExporter()
	h.svc.exporter = exp
	var hooked []string
	var mu sync.Mutex
	h.svc.SetGroupExitHook(func(_ context.Context, groupID string) {
		mu.Lock()
		defer mu.Unlock()
		hooked = append(hooked, groupID)
	})

	_, err := h.svc.Start(context.Background(), ports.StartTaskInput{
		ID:       "g1-1",
		Username: "alice",
		URL:      "https://live.example.com/g1.m3u8",
		GroupID:  domain.StringPtr("g1"),
	})
	require.NoError(t, err)
	writeFile(t, filepath.Join(h.downloads, "g1-1.mp4"), 10)
	h.launcher.Procs()[0].Exit(0)

	<-exp.started
	// the group hears about the exit while the upload is still running
	mu.Lock()
	require.Equal(t, []string{"g1"}, hooked)
	mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Shutdown(ctx))
	require.ErrorIs(t, <-exp.result, context.Canceled)
	require.Contains(t, historyLines(t, h, "g1-1"), "export failed: context canceled")
}

func TestReconcileOnStartup(t *testing.T) {
	h := newRecordingHarness(t)
	ctx := context.Background()
	require.NoError(t, os.MkdirAll(h.downloads, 0o755))

	seed := []struct {
		id     string
		status domain.TaskStatus
		file   bool
	}{
		{"r-running", domain.TaskStatusRunning, true},
		{"r-stopped", domain.TaskStatusStopped, true},
		{"r-pending", domain.TaskStatusPending, false},
		{"r-done", domain.TaskStatusCompleted, false},
	}
	for _, s := range seed {
		out := filepath.Join(h.downloads, s.id+".mp4")
		if s.file {
			writeFile(t, out, 64)
		}
		require.NoError(t, h.store.Tasks().Create(ctx, &domain.Task{
			ID:         s.id,
			Username:   "alice",
			Status:     s.status,
			OutputFile: domain.StringPtr(out),
			GroupID:    domain.StringPtr("g1"),
		}))
	}

	var hooked []string
	h.svc.SetGroupExitHook(func(_ context.Context, groupID string) { hooked = append(hooked, groupID) })

	n, err := h.svc.ReconcileOnStartup(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{"g1"}, hooked)

	h.waitStatus(t, "r-running", domain.TaskStatusCompleted)
	h.waitStatus(t, "r-stopped", domain.TaskStatusPaused)
	h.waitStatus(t, "r-pending", domain.TaskStatusFailed)
	h.waitStatus(t, "r-done", domain.TaskStatusCompleted)
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("https://x/live.m3u8", domain.JSONB{
		"save-name":            "show",
		"live-real-time-merge": true,
		"no-log":               false,
		"header":               []interface{}{"A: 1", "B: 2"},
		"thread-count":         float64(8),
		"-M":                   "format=mp4",
		"unset":                nil,
	})
	require.Equal(t, []string{
		"https://x/live.m3u8",
		"-M", "format=mp4",
		"--header", "A: 1",
		"--header", "B: 2",
		"--live-real-time-merge",
		"--save-name", "show",
		"--thread-count", "8",
	}, args)
}
