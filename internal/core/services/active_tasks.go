package services

import (
	"sort"
	"sync"

	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
)

// ActiveTask is the runtime companion of a task while its recorder process is
// alive. It outlives the process so late status and history reads succeed,
// and is dropped from the registry when the task is deleted.
type ActiveTask struct {
	ID      string
	SaveDir string
	TmpDir  string
	GroupID *string

	// transition serializes Stop, Delete and the exit handler.
	transition sync.Mutex

	mu            sync.Mutex
	process       ports.Process
	status        domain.TaskStatus
	history       []string
	historyLimit  int
	outputSeq     uint64
	outputFile    string
	ext           string
	fileSize      int64
	stopRequested bool
	exited        bool
	deleted       bool

	inputMu sync.Mutex
	exit    sync.Once
	done    chan struct{}
}

func newActiveTask(id, saveDir, tmpDir, outputFile, ext string, historyLimit int) *ActiveTask {
	return &ActiveTask{
		ID:           id,
		SaveDir:      saveDir,
		TmpDir:       tmpDir,
		outputFile:   outputFile,
		ext:          ext,
		historyLimit: historyLimit,
		status:       domain.TaskStatusPending,
		done:         make(chan struct{}),
	}
}

func (a *ActiveTask) attach(p ports.Process) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.process = p
}

func (a *ActiveTask) Process() ports.Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.process
}

// takeProcess clears the handle and returns what was there, so only one
// caller ever kills a given process.
func (a *ActiveTask) takeProcess() ports.Process {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.process
	a.process = nil
	return p
}

func (a *ActiveTask) Status() domain.TaskStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// setStatus moves the task to s if the transition graph allows it.
func (a *ActiveTask) setStatus(s domain.TaskStatus) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !CanTransition(a.status, s) {
		return false
	}
	a.status = s
	return true
}

// IsRunning reports whether the process is alive and nobody asked it to stop.
func (a *ActiveTask) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.process != nil && a.status == domain.TaskStatusRunning && !a.deleted
}

// appendOutput buffers line and returns its sequence number.
func (a *ActiveTask) appendOutput(line string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.history = append(a.history, line)
	if a.historyLimit > 0 && len(a.history) > a.historyLimit {
		drop := len(a.history) - a.historyLimit
		a.history = append(a.history[:0:0], a.history[drop:]...)
	}
	a.outputSeq++
	return a.outputSeq
}

// History returns a copy of the buffered output lines.
func (a *ActiveTask) History() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.history) == 0 {
		return nil
	}
	out := make([]string, len(a.history))
	copy(out, a.history)
	return out
}

// snapshot returns the buffered lines together with the sequence number of
// the last one.
func (a *ActiveTask) snapshot() ([]string, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.history))
	copy(out, a.history)
	return out, a.outputSeq
}

func (a *ActiveTask) OutputFile() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outputFile
}

func (a *ActiveTask) setOutputFile(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outputFile = path
}

func (a *ActiveTask) Ext() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ext
}

func (a *ActiveTask) setExt(ext string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ext = ext
}

func (a *ActiveTask) FileSize() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fileSize
}

// raiseFileSize records n if it is larger than the last known size.
func (a *ActiveTask) raiseFileSize(n int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= a.fileSize {
		return false
	}
	a.fileSize = n
	return true
}

func (a *ActiveTask) requestStop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopRequested = true
}

func (a *ActiveTask) StopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopRequested
}

func (a *ActiveTask) markExited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exited {
		return
	}
	a.exited = true
	a.process = nil
	close(a.done)
}

// Done is closed once the process has exited or failed to spawn.
func (a *ActiveTask) Done() <-chan struct{} {
	return a.done
}

func (a *ActiveTask) Exited() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exited
}

func (a *ActiveTask) markDeleted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = true
}

func (a *ActiveTask) Deleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.deleted
}

// ActiveTaskRegistry is the in-memory index of active tasks keyed by task id.
type ActiveTaskRegistry struct {
	tasks map[string]*ActiveTask
	mu    sync.RWMutex
}

func NewActiveTaskRegistry() *ActiveTaskRegistry {
	return &ActiveTaskRegistry{tasks: make(map[string]*ActiveTask)}
}

// add registers a task. It returns false if the id is already taken.
func (r *ActiveTaskRegistry) add(t *ActiveTask) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return false
	}
	r.tasks[t.ID] = t
	return true
}

func (r *ActiveTaskRegistry) Get(id string) (*ActiveTask, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// remove is a no-op for unknown ids so concurrent deletes stay harmless.
func (r *ActiveTaskRegistry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// All returns the registered tasks ordered by id.
func (r *ActiveTaskRegistry) All() []*ActiveTask {
	r.mu.RLock()
	out := make([]*ActiveTask, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *ActiveTaskRegistry) Running() []*ActiveTask {
	var out []*ActiveTask
	for _, t := range r.All() {
		if t.IsRunning() {
			out = append(out, t)
		}
	}
	return out
}

// HistorySnapshot implements the hub's history source.
func (r *ActiveTaskRegistry) HistorySnapshot(taskID string) ([]string, uint64) {
	t, ok := r.Get(taskID)
	if !ok {
		return nil, 0
	}
	return t.snapshot()
}

// TempDirInUse reports whether dir is the working directory of a live task.
func (r *ActiveTaskRegistry) TempDirInUse(dir string) bool {
	for _, t := range r.All() {
		if t.Process() != nil && t.TmpDir != "" && samePath(t.TmpDir, dir) {
			return true
		}
	}
	return false
}
