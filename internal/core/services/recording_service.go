package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

const (
	optionSaveDir  = "save-dir"
	optionTmpDir   = "tmp-dir"
	optionSaveName = "save-name"

	maxOutputToken = 1 << 20
)

type RecordingServiceConfig struct {
	Tasks     ports.TaskRepository
	History   ports.TaskHistoryRepository
	Launcher  ports.ProcessLauncher
	Hub       ports.Broadcaster
	Registry  *ActiveTaskRegistry
	Artifacts *ArtifactService
	// Exporter is optional.
	Exporter ports.ArtifactExporter
	Recorder config.RecorderConfig
	Logger   *logger.Logger
}

// RecordingService supervises one recorder process per task.
type RecordingService struct {
	tasks     ports.TaskRepository
	history   ports.TaskHistoryRepository
	launcher  ports.ProcessLauncher
	hub       ports.Broadcaster
	registry  *ActiveTaskRegistry
	artifacts *ArtifactService
	exporter  ports.ArtifactExporter
	recorder  config.RecorderConfig
	logger    *logger.Logger

	groupExitHook func(ctx context.Context, groupID string)
	exits         sync.WaitGroup

	// exportCtx is cancelled by Shutdown; uploads run on it.
	exportCtx     context.Context
	cancelExports context.CancelFunc
	exports       sync.WaitGroup
}

func NewRecordingService(cfg RecordingServiceConfig) *RecordingService {
	if cfg.Recorder.PersistTimeout <= 0 {
		cfg.Recorder.PersistTimeout = 5 * time.Second
	}
	if cfg.Recorder.DefaultExt == "" {
		cfg.Recorder.DefaultExt = "mp4"
	}
	exportCtx, cancelExports := context.WithCancel(context.Background())
	return &RecordingService{
		tasks:         cfg.Tasks,
		history:       cfg.History,
		launcher:      cfg.Launcher,
		hub:           cfg.Hub,
		registry:      cfg.Registry,
		artifacts:     cfg.Artifacts,
		exporter:      cfg.Exporter,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		exportCtx:     exportCtx,
		cancelExports: cancelExports,
	}
}

// SetGroupExitHook registers a callback run after a group member's process
// has been resolved.
func (s *RecordingService) SetGroupExitHook(fn func(ctx context.Context, groupID string)) {
	s.groupExitHook = fn
}

// ==================== Start ====================

func (s *RecordingService) Start(ctx context.Context, input ports.StartTaskInput) (string, error) {
	url := strings.TrimSpace(input.URL)
	if url == "" {
		return "", fmt.Errorf("%w: url is required", ErrTaskInvalidInput)
	}
	id := input.ID
	if id == "" {
		id = newTaskID()
	}

	options := cloneOptions(input.Options)
	saveDir, err := prepareDir(options, optionSaveDir, s.recorder.SaveDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTaskInvalidInput, err)
	}
	tmpDir, err := prepareDir(options, optionTmpDir, s.recorder.TmpDir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTaskInvalidInput, err)
	}
	saveName := optionString(options, optionSaveName)
	if saveName == "" {
		saveName = id
		options[optionSaveName] = id
	}

	ext := s.recorder.DefaultExt
	outputFile := filepath.Join(saveDir, saveName+"."+ext)
	workDir := filepath.Join(tmpDir, saveName)

	at := newActiveTask(id, saveDir, workDir, outputFile, ext, s.recorder.HistoryLimit)
	at.GroupID = input.GroupID
	if !s.registry.add(at) {
		return "", ErrTaskExists
	}

	task := &domain.Task{
		ID:         id,
		Username:   input.Username,
		URL:        url,
		Status:     domain.TaskStatusPending,
		Options:    options,
		GroupID:    input.GroupID,
		OutputFile: domain.StringPtr(outputFile),
		TempDir:    domain.StringPtr(workDir),
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		s.registry.remove(id)
		s.logger.Errorw("task_create_failed", "task_id", id, "error", err)
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	args := BuildArgs(url, options)
	proc, err := s.launcher.Launch(ports.ProcessSpec{Binary: s.recorder.Binary, Args: args})
	if err != nil {
		s.failSpawn(at, err)
		return id, fmt.Errorf("%w: %v", ErrTaskSpawnFailed, err)
	}

	// Stop and Delete may have run while Launch was in flight; they left the
	// kill to us.
	running := domain.TaskStatusRunning
	at.transition.Lock()
	at.attach(proc)
	abandoned := at.Deleted() || at.StopRequested()
	if !abandoned && s.setStatus(at, running) {
		s.updateTask(id, ports.TaskUpdate{Status: &running})
		s.hub.PublishStatus(id, domain.StatusMessage(id, running, outputFile, 0))
	}
	at.transition.Unlock()

	var streams sync.WaitGroup
	streams.Add(2)
	go s.pump(at, proc.Stdout(), domain.StreamStdout, &streams)
	go s.pump(at, proc.Stderr(), domain.StreamStderr, &streams)

	s.exits.Add(1)
	go s.awaitExit(at, proc, &streams)

	if abandoned {
		if p := at.takeProcess(); p != nil {
			if err := p.Kill(); err != nil {
				s.logger.Warnw("task_kill_failed", "task_id", id, "pid", p.Pid(), "error", err)
			}
		}
		s.logger.Infow("task_start_abandoned", "task_id", id, "pid", proc.Pid(), "deleted", at.Deleted())
		return id, nil
	}

	s.logger.Infow("task_start_ok", "task_id", id, "pid", proc.Pid(), "url", url, "args", len(args))
	return id, nil
}

func (s *RecordingService) failSpawn(at *ActiveTask, spawnErr error) {
	at.transition.Lock()
	moved := s.setStatus(at, domain.TaskStatusFailed)
	at.markExited()
	deleted := at.Deleted()
	at.transition.Unlock()

	s.logger.Errorw("task_spawn_failed", "task_id", at.ID, "binary", s.recorder.Binary, "error", spawnErr)
	if deleted || !moved {
		return
	}

	failed := domain.TaskStatusFailed
	msg := "failed to start recorder: " + spawnErr.Error()
	s.appendHistory(at.ID, domain.StreamSystem, msg)
	s.updateTask(at.ID, ports.TaskUpdate{Status: &failed, LastOutput: &msg})
	s.hub.PublishStatus(at.ID, domain.StatusMessage(at.ID, failed, "", 0))
	s.notifyGroup(at)
}

// ==================== Output ====================

func (s *RecordingService) pump(at *ActiveTask, r io.Reader, stream domain.OutputStream, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxOutputToken)
	scanner.Split(splitOutputLines)
	for scanner.Scan() {
		text, err := DecodeOutput(scanner.Bytes())
		if err != nil {
			s.logger.Warnw("task_output_dropped", "task_id", at.ID, "stream", stream, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		for _, line := range strings.Split(text, "\n") {
			s.handleLine(at, stream, line)
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warnw("task_output_read_failed", "task_id", at.ID, "stream", stream, "error", err)
		// keep draining so the recorder never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}

func (s *RecordingService) handleLine(at *ActiveTask, stream domain.OutputStream, line string) {
	seq := at.appendOutput(line)

	update := ports.TaskUpdate{LastOutput: &line}
	sig := ExtractSignals(line)
	if sig.HasFileSize && at.raiseFileSize(sig.FileSize) {
		size := sig.FileSize
		update.FileSize = &size
	}
	if sig.FinalName != "" {
		ext := sig.FinalExt
		if ext == "" {
			ext = at.Ext()
		} else {
			at.setExt(ext)
		}
		path := filepath.Join(at.SaveDir, sig.FinalName+"."+ext)
		if path != at.OutputFile() {
			at.setOutputFile(path)
			update.OutputFile = &path
			s.logger.Infow("task_output_renamed", "task_id", at.ID, "output_file", path)
		}
	}

	if at.Deleted() {
		return
	}
	s.appendHistory(at.ID, stream, line)
	s.updateTask(at.ID, update)
	s.hub.Publish(at.ID, domain.SequencedOutputMessage(at.ID, line, at.FileSize(), seq))
}

// ==================== Exit ====================

func (s *RecordingService) awaitExit(at *ActiveTask, proc ports.Process, streams *sync.WaitGroup) {
	defer s.exits.Done()

	streams.Wait()
	code, err := proc.Wait()
	if err != nil {
		s.logger.Warnw("task_wait_failed", "task_id", at.ID, "error", err)
	}
	at.exit.Do(func() { s.handleExit(at, code) })
}

// handleExit is the only place a task reaches completed, failed or paused.
func (s *RecordingService) handleExit(at *ActiveTask, code int) {
	status, path, resolved := s.resolveExit(at, code)
	if !resolved {
		return
	}
	s.notifyGroup(at)
	if status == domain.TaskStatusCompleted && s.exporter != nil {
		s.exports.Add(1)
		go func() {
			defer s.exports.Done()
			s.export(at.ID, path)
		}()
	}
}

func (s *RecordingService) resolveExit(at *ActiveTask, code int) (domain.TaskStatus, string, bool) {
	at.transition.Lock()
	defer at.transition.Unlock()

	at.markExited()
	if at.Deleted() {
		s.logger.Infow("task_exit_after_delete", "task_id", at.ID, "exit_code", code)
		return "", "", false
	}

	path, size, found := s.artifacts.StatArtifact(at.OutputFile())
	status := ResolveExitStatus(at.StopRequested(), found)

	update := ports.TaskUpdate{Status: &status}
	if found {
		at.setOutputFile(path)
		update.OutputFile = &path
		if at.raiseFileSize(size) {
			update.FileSize = &size
		}
	}
	if !s.setStatus(at, status) {
		return "", "", false
	}

	s.appendHistory(at.ID, domain.StreamSystem, fmt.Sprintf("recorder exited with code %d", code))
	s.updateTask(at.ID, update)
	s.hub.PublishStatus(at.ID, domain.StatusMessage(at.ID, status, path, at.FileSize()))
	s.logger.Infow("task_exit_resolved",
		"task_id", at.ID,
		"exit_code", code,
		"status", status,
		"artifact", path,
		"stop_requested", at.StopRequested(),
	)
	return status, path, true
}

func (s *RecordingService) export(taskID, path string) {
	remotePath, err := s.exporter.Export(s.exportCtx, path)
	if err != nil {
		s.logger.Errorw("task_export_failed", "task_id", taskID, "path", path, "error", err)
		s.appendHistory(taskID, domain.StreamSystem, "export failed: "+err.Error())
		return
	}
	s.logger.Infow("task_export_ok", "task_id", taskID, "remote_path", remotePath)
	s.appendHistory(taskID, domain.StreamSystem, "exported to "+remotePath)
}

func (s *RecordingService) notifyGroup(at *ActiveTask) {
	if s.groupExitHook == nil || at.GroupID == nil {
		return
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	s.groupExitHook(ctx, *at.GroupID)
}

// ==================== Stop / Input / Delete ====================

// Stop kills the task's process tree and marks it stopped. The final status
// is decided later by the exit handler. A task still being launched is killed
// as soon as its process is attached. Stopping a task whose process is gone
// is a no-op.
func (s *RecordingService) Stop(ctx context.Context, taskID string) error {
	at, ok := s.registry.Get(taskID)
	if !ok {
		if _, err := s.tasks.GetByID(ctx, taskID); err != nil {
			return s.translateNotFound(err)
		}
		return nil
	}

	at.transition.Lock()
	if at.Exited() || at.Deleted() || at.StopRequested() {
		at.transition.Unlock()
		return nil
	}
	stopped := domain.TaskStatusStopped
	if !s.setStatus(at, stopped) {
		at.transition.Unlock()
		return nil
	}
	at.requestStop()
	proc := at.takeProcess()
	s.updateTask(taskID, ports.TaskUpdate{Status: &stopped})
	s.hub.PublishStatus(taskID, domain.StatusMessage(taskID, stopped, at.OutputFile(), at.FileSize()))
	at.transition.Unlock()

	if proc == nil {
		s.logger.Infow("task_stop_deferred", "task_id", taskID)
		return nil
	}
	if err := proc.Kill(); err != nil {
		s.logger.Warnw("task_kill_failed", "task_id", taskID, "pid", proc.Pid(), "error", err)
	}
	s.logger.Infow("task_stop_ok", "task_id", taskID, "pid", proc.Pid())
	return nil
}

// SendInput writes line to the recorder's stdin. It silently does nothing
// when the task has no live process.
func (s *RecordingService) SendInput(taskID, line string) {
	at, ok := s.registry.Get(taskID)
	if !ok {
		return
	}
	proc := at.Process()
	if proc == nil {
		return
	}
	at.inputMu.Lock()
	defer at.inputMu.Unlock()
	if _, err := io.WriteString(proc.Stdin(), strings.TrimRight(line, "\r\n")+"\n"); err != nil {
		s.logger.Debugw("task_input_failed", "task_id", taskID, "error", err)
	}
}

// Delete stops the process if needed, removes artifacts, history and the
// record. Artifact cleanup failures never keep the record alive.
func (s *RecordingService) Delete(ctx context.Context, taskID string) error {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("failed to load task: %w", err)
	}
	at, active := s.registry.Get(taskID)
	if task == nil && !active {
		return ErrTaskNotFound
	}
	if task == nil {
		task = &domain.Task{ID: taskID, GroupID: at.GroupID}
	}

	if active {
		at.transition.Lock()
		at.markDeleted()
		proc := at.takeProcess()
		at.transition.Unlock()

		if proc != nil {
			if err := proc.Kill(); err != nil {
				s.logger.Warnw("task_kill_failed", "task_id", taskID, "pid", proc.Pid(), "error", err)
			}
			s.awaitDone(at)
		}
		out := at.OutputFile()
		task.OutputFile = &out
		if at.TmpDir != "" {
			task.TempDir = domain.StringPtr(at.TmpDir)
		}
	}

	if err := s.artifacts.DeleteTaskArtifacts(task); err != nil {
		s.logger.Warnw("task_artifact_cleanup_partial", "task_id", taskID, "error", err)
	}
	if err := s.history.DeleteByTask(ctx, taskID); err != nil {
		s.logger.Warnw("task_history_delete_failed", "task_id", taskID, "error", err)
	}
	if err := s.tasks.Delete(ctx, taskID); err != nil && !errors.Is(err, ports.ErrNotFound) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	s.registry.remove(taskID)

	s.logger.Infow("task_delete_ok", "task_id", taskID)
	return nil
}

// awaitDone gives a killed process a bounded window to exit before its files
// are removed.
func (s *RecordingService) awaitDone(at *ActiveTask) {
	grace := s.recorder.StopGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-at.Done():
	case <-timer.C:
		s.logger.Warnw("task_exit_wait_timeout", "task_id", at.ID, "grace", grace)
	}
}

// ==================== Reads ====================

func (s *RecordingService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, s.translateNotFound(err)
	}
	s.overlay(task)
	return task, nil
}

func (s *RecordingService) ListTasks(ctx context.Context, username string) ([]domain.Task, error) {
	tasks, err := s.tasks.ListByUser(ctx, username)
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		s.overlay(&tasks[i])
	}
	return tasks, nil
}

// History returns persisted output rows, falling back to the in-memory buffer
// when nothing has been persisted yet.
func (s *RecordingService) History(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error) {
	rows, err := s.history.ListByTask(ctx, taskID, limit)
	if err != nil {
		s.logger.Warnw("task_history_read_failed", "task_id", taskID, "error", err)
	}
	if len(rows) > 0 {
		return rows, nil
	}
	at, ok := s.registry.Get(taskID)
	if !ok {
		if err != nil {
			return nil, err
		}
		if _, getErr := s.tasks.GetByID(ctx, taskID); getErr != nil {
			return nil, s.translateNotFound(getErr)
		}
		return nil, nil
	}
	lines := at.History()
	if limit > 0 && len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	out := make([]domain.TaskHistory, 0, len(lines))
	for _, l := range lines {
		out = append(out, domain.TaskHistory{TaskID: taskID, Stream: domain.StreamStdout, Line: l})
	}
	return out, nil
}

// overlay applies runtime fields the store may not have caught up with.
func (s *RecordingService) overlay(task *domain.Task) {
	at, ok := s.registry.Get(task.ID)
	if !ok {
		return
	}
	if status := at.Status(); status != "" {
		task.Status = status
	}
	if size := at.FileSize(); size > task.FileSize {
		task.FileSize = size
	}
	if out := at.OutputFile(); out != "" {
		task.OutputFile = domain.StringPtr(out)
	}
}

// ==================== Lifecycle ====================

// ReconcileOnStartup resolves tasks left pending, running or stopped by a
// previous run whose processes are gone, using the normal exit rule.
func (s *RecordingService) ReconcileOnStartup(ctx context.Context) (int, error) {
	stuck, err := s.tasks.ListByStatus(ctx,
		domain.TaskStatusPending,
		domain.TaskStatusRunning,
		domain.TaskStatusStopped,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list unfinished tasks: %w", err)
	}

	groups := make(map[string]struct{})
	resolved := 0
	for _, t := range stuck {
		if _, live := s.registry.Get(t.ID); live {
			continue
		}
		expected := ""
		if t.OutputFile != nil {
			expected = *t.OutputFile
		}
		path, size, found := s.artifacts.StatArtifact(expected)
		status := ResolveExitStatus(t.Status == domain.TaskStatusStopped, found)
		if !CanResolve(t.Status, status) {
			s.logger.Warnw("task_transition_rejected", "task_id", t.ID, "from", t.Status, "to", status)
			continue
		}

		update := ports.TaskUpdate{Status: &status}
		if found {
			update.OutputFile = &path
			if size > t.FileSize {
				update.FileSize = &size
			}
		}
		if err := s.tasks.Update(ctx, t.ID, update); err != nil {
			s.logger.Warnw("task_reconcile_failed", "task_id", t.ID, "error", err)
			continue
		}
		s.appendHistory(t.ID, domain.StreamSystem, "recorder lost on restart, resolved as "+string(status))
		s.logger.Infow("task_reconcile_ok", "task_id", t.ID, "from", t.Status, "to", status)
		if t.GroupID != nil {
			groups[*t.GroupID] = struct{}{}
		}
		resolved++
	}

	if s.groupExitHook != nil {
		for g := range groups {
			s.groupExitHook(ctx, g)
		}
	}
	return resolved, nil
}

// Shutdown stops every live process, waits for their exit handlers and then
// cancels uploads still in flight.
func (s *RecordingService) Shutdown(ctx context.Context) error {
	for _, at := range s.registry.All() {
		if at.Exited() {
			continue
		}
		if err := s.Stop(ctx, at.ID); err != nil {
			s.logger.Warnw("task_shutdown_stop_failed", "task_id", at.ID, "error", err)
		}
	}

	err := waitGroupCtx(ctx, &s.exits)
	s.cancelExports()
	if exportErr := waitGroupCtx(ctx, &s.exports); err == nil {
		err = exportErr
	}
	return err
}

func waitGroupCtx(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ==================== helpers ====================

// setStatus applies a runtime transition, logging edges the graph refuses.
// Callers hold at.transition.
func (s *RecordingService) setStatus(at *ActiveTask, to domain.TaskStatus) bool {
	from := at.Status()
	if at.setStatus(to) {
		return true
	}
	s.logger.Warnw("task_transition_rejected", "task_id", at.ID, "from", from, "to", to)
	return false
}

func (s *RecordingService) persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.recorder.PersistTimeout)
}

func (s *RecordingService) updateTask(id string, update ports.TaskUpdate) {
	if update.IsEmpty() {
		return
	}
	ctx, cancel := s.persistCtx()
	defer cancel()
	if err := s.tasks.Update(ctx, id, update); err != nil {
		s.logger.Warnw("task_persist_failed", "task_id", id, "error", err)
	}
}

func (s *RecordingService) appendHistory(id string, stream domain.OutputStream, line string) {
	ctx, cancel := s.persistCtx()
	defer cancel()
	entry := &domain.TaskHistory{TaskID: id, Stream: stream, Line: line}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Warnw("task_history_persist_failed", "task_id", id, "error", err)
	}
}

func (s *RecordingService) translateNotFound(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return ErrTaskNotFound
	}
	return err
}

// BuildArgs flattens options into recorder flags after the URL. Keys are
// emitted in sorted order: true becomes a bare flag, false and nil are
// skipped, lists repeat the flag and anything else becomes flag plus value.
// Keys that already start with "-" are used as given.
func BuildArgs(url string, options domain.JSONB) []string {
	args := []string{url}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		flag := k
		if !strings.HasPrefix(k, "-") {
			flag = "--" + k
		}
		switch v := options[k].(type) {
		case nil:
		case bool:
			if v {
				args = append(args, flag)
			}
		case []interface{}:
			for _, item := range v {
				args = append(args, flag, stringifyOption(item))
			}
		case []string:
			for _, item := range v {
				args = append(args, flag, item)
			}
		default:
			args = append(args, flag, stringifyOption(v))
		}
	}
	return args
}

func stringifyOption(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(t)
	}
}

func cloneOptions(in domain.JSONB) domain.JSONB {
	out := make(domain.JSONB, len(in)+3)
	for k, v := range in {
		out[k] = v
	}
	return out
}

func optionString(options domain.JSONB, key string) string {
	v, ok := options[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(stringifyOption(v))
}

// prepareDir resolves options[key] (or def) to an absolute directory, creates
// it and writes the absolute path back into options.
func prepareDir(options domain.JSONB, key, def string) (string, error) {
	dir := optionString(options, key)
	if dir == "" {
		dir = def
	}
	if dir == "" {
		return "", fmt.Errorf("%s is not set", key)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	options[key] = abs
	return abs, nil
}

func newTaskID() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}
