package services

import "github.com/reclive/backend/internal/domain"

var taskTransitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusPending: {domain.TaskStatusRunning, domain.TaskStatusStopped, domain.TaskStatusFailed},
	domain.TaskStatusRunning: {domain.TaskStatusStopped, domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusPaused},
	domain.TaskStatusStopped: {domain.TaskStatusPaused, domain.TaskStatusCompleted, domain.TaskStatusFailed},
}

// CanTransition reports whether a task may move from one status to another.
// completed, failed and paused have no outgoing edges.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanResolve reports whether a task stored as from may be resolved to to
// after its recorder is gone. A stored pending may lag a recorder that was
// already running, so it resolves like running.
func CanResolve(from, to domain.TaskStatus) bool {
	if from == domain.TaskStatusPending {
		from = domain.TaskStatusRunning
	}
	return CanTransition(from, to)
}

// ResolveExitStatus decides the terminal status once the recorder has exited.
// Without an artifact on disk the task failed whatever the exit code was.
func ResolveExitStatus(stopRequested, artifactFound bool) domain.TaskStatus {
	switch {
	case !artifactFound:
		return domain.TaskStatusFailed
	case stopRequested:
		return domain.TaskStatusPaused
	default:
		return domain.TaskStatusCompleted
	}
}

// GroupStatusOf aggregates member statuses. A group with live members is
// running; one where every member failed is failed.
func GroupStatusOf(tasks []domain.Task) domain.GroupStatus {
	if len(tasks) == 0 {
		return domain.GroupStatusFailed
	}
	failed, halted := 0, 0
	for _, t := range tasks {
		switch t.Status {
		case domain.TaskStatusPending, domain.TaskStatusRunning:
			return domain.GroupStatusRunning
		case domain.TaskStatusFailed:
			failed++
		case domain.TaskStatusStopped, domain.TaskStatusPaused:
			halted++
		}
	}
	switch {
	case failed == len(tasks):
		return domain.GroupStatusFailed
	case halted > 0:
		return domain.GroupStatusStopped
	default:
		return domain.GroupStatusCompleted
	}
}
