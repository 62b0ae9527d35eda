package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/db"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/require"
)

// fakeProcess stands in for a recorder. Output is fed through pipes; the
// process "exits" when the test calls Exit or the service calls Kill.
type fakeProcess struct {
	pid     int
	stdin   *lockedBuffer
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	once  sync.Once
	done  chan struct{}
	code  int
	kills int
	mu    sync.Mutex
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{
		pid:   pid,
		stdin: &lockedBuffer{},
		done:  make(chan struct{}),
	}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }

func (p *fakeProcess) Stdout() io.Reader { return p.stdoutR }

func (p *fakeProcess) Stderr() io.Reader { return p.stderrR }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	return p.code, nil
}

func (p *fakeProcess) Exited() <-chan struct{} { return p.done }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	p.Exit(-1)
	return nil
}

// Exit ends the process with code. Later calls are ignored.
func (p *fakeProcess) Exit(code int) {
	p.once.Do(func() {
		p.code = code
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.done)
	})
}

func (p *fakeProcess) Say(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(p.stdoutW, line+"\n")
	require.NoError(t, err)
}

func (p *fakeProcess) Kills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Close() error { return nil }

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeLauncher struct {
	mu    sync.Mutex
	specs []ports.ProcessSpec
	procs []*fakeProcess
	err   error
}

func (l *fakeLauncher) Launch(spec ports.ProcessSpec) (ports.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(1000 + len(l.procs))
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) Procs() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeProcess(nil), l.procs...)
}

func (l *fakeLauncher) Specs() []ports.ProcessSpec {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.ProcessSpec(nil), l.specs...)
}

// gatedLauncher holds Launch open until release is closed.
type gatedLauncher struct {
	*fakeLauncher
	entered chan struct{}
	release chan struct{}
}

func newGatedLauncher(inner *fakeLauncher) *gatedLauncher {
	return &gatedLauncher{fakeLauncher: inner, entered: make(chan struct{}), release: make(chan struct{})}
}

func (l *gatedLauncher) Launch(spec ports.ProcessSpec) (ports.Process, error) {
	close(l.entered)
	<-l.release
	return l.fakeLauncher.Launch(spec)
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []domain.Message
}

func (b *fakeBroadcaster) Publish(_ string, msg domain.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *fakeBroadcaster) PublishStatus(_ string, msg domain.Message) {
	b.Publish("", msg)
}

func (b *fakeBroadcaster) Statuses(taskID string) []domain.TaskStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.TaskStatus
	for _, m := range b.msgs {
		if m.TaskID == taskID && m.Type == domain.MessageStatus {
			out = append(out, m.Status)
		}
	}
	return out
}

func (b *fakeBroadcaster) Count(taskID string, typ domain.MessageType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m.TaskID == taskID && m.Type == typ {
			n++
		}
	}
	return n
}

type fakeExporter struct {
	mu    sync.Mutex
	paths []string
}

func (e *fakeExporter) Export(_ context.Context, localPath string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paths = append(e.paths, localPath)
	return "/remote/" + filepath.Base(localPath), nil
}

func (e *fakeExporter) Paths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.paths...)
}

// blockingExporter holds every upload until its context ends.
type blockingExporter struct {
	started chan struct{}
	result  chan error
}

func newBlockingExporter() *blockingExporter {
	return &blockingExporter{started: make(chan struct{}), result: make(chan error, 1)}
}

func (e *blockingExporter) Export(ctx context.Context, _ string) (string, error) {
	close(e.started)
	<-ctx.Done()
	e.result <- ctx.Err()
	return "", ctx.Err()
}

type recordingHarness struct {
	svc       *RecordingService
	store     *db.MemoryStore
	launcher  *fakeLauncher
	hub       *fakeBroadcaster
	registry  *ActiveTaskRegistry
	artifacts *ArtifactService
	downloads string
	temp      string
}

func newRecordingHarness(t *testing.T) *recordingHarness {
	t.Helper()
	base := t.TempDir()
	h := &recordingHarness{
		store:     db.NewMemoryStore(logger.NewNop(), 100),
		launcher:  &fakeLauncher{},
		hub:       &fakeBroadcaster{},
		registry:  NewActiveTaskRegistry(),
		downloads: filepath.Join(base, "downloads"),
		temp:      filepath.Join(base, "temp"),
	}
	h.artifacts = NewArtifactService(ArtifactServiceConfig{
		DownloadsRoot: h.downloads,
		TempRoot:      h.temp,
		Logger:        logger.NewNop(),
		InUse:         h.registry.TempDirInUse,
	})
	h.svc = NewRecordingService(RecordingServiceConfig{
		Tasks:     h.store.Tasks(),
		History:   h.store.History(),
		Launcher:  h.launcher,
		Hub:       h.hub,
		Registry:  h.registry,
		Artifacts: h.artifacts,
		Recorder: config.RecorderConfig{
			Binary:         "recorder",
			SaveDir:        h.downloads,
			TmpDir:         h.temp,
			DownloadsRoot:  h.downloads,
			TempRoot:       h.temp,
			DefaultExt:     "mp4",
			HistoryLimit:   100,
			PersistTimeout: time.Second,
			StopGrace:      time.Second,
		},
		Logger: logger.NewNop(),
	})
	t.Cleanup(func() {
		for _, p := range h.launcher.Procs() {
			p.Exit(0)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, h.svc.Shutdown(ctx))
	})
	return h
}

func (h *recordingHarness) start(t *testing.T, id string) *fakeProcess {
	t.Helper()
	got, err := h.svc.Start(context.Background(), ports.StartTaskInput{ID: id, Username: "alice", URL: "https://live.example.com/" + id + ".m3u8"})
	require.NoError(t, err)
	require.Equal(t, id, got)
	procs := h.launcher.Procs()
	return procs[len(procs)-1]
}

func (h *recordingHarness) waitStatus(t *testing.T, id string, want domain.TaskStatus) *domain.Task {
	t.Helper()
	var task *domain.Task
	require.Eventually(t, func() bool {
		var err error
		task, err = h.store.Tasks().GetByID(context.Background(), id)
		return err == nil && task.Status == want
	}, 2*time.Second, 5*time.Millisecond, "task %s never reached %s", id, want)
	return task
}

func waitExited(t *testing.T, p *fakeProcess) {
	t.Helper()
	select {
	case <-p.Exited():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit")
	}
}

var errSpawn = errors.New("exec: \"recorder\": executable file not found in $PATH")
