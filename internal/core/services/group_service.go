package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"golang.org/x/sync/errgroup"
)

const groupStopConcurrency = 8

type GroupServiceConfig struct {
	Groups      ports.TaskGroupRepository
	Tasks       ports.TaskRepository
	Recorder    ports.RecordingService
	Logger      *logger.Logger
	EnableLocks bool
}

// GroupService starts batches of recordings that share a group id and
// cascades stop and delete across them.
type GroupService struct {
	groups      ports.TaskGroupRepository
	tasks       ports.TaskRepository
	recorder    ports.RecordingService
	logger      *logger.Logger
	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	enableLocks bool
}

func NewGroupService(cfg GroupServiceConfig) *GroupService {
	return &GroupService{
		groups:      cfg.Groups,
		tasks:       cfg.Tasks,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
		locks:       make(map[string]*sync.Mutex),
		enableLocks: cfg.EnableLocks,
	}
}

func (s *GroupService) lockKeys(keys ...string) func() {
	if !s.enableLocks || len(keys) == 0 {
		return func() {}
	}
	sort.Strings(keys)
	s.mu.Lock()
	acquired := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		m := s.locks[k]
		if m == nil {
			m = &sync.Mutex{}
			s.locks[k] = m
		}
		acquired = append(acquired, m)
	}
	s.mu.Unlock()
	for _, m := range acquired {
		m.Lock()
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

// StartGroup creates the group row and one task per non-blank URL with id
// "{groupId}-{n}". A member that fails to start does not stop the others.
func (s *GroupService) StartGroup(ctx context.Context, input ports.StartGroupInput) (*domain.TaskGroup, error) {
	var urls []string
	for _, u := range input.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: at least one url is required", ErrGroupInvalidInput)
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		name = "Batch " + time.Now().Format("2006-01-02 15:04:05")
	}

	group := &domain.TaskGroup{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  input.Username,
		Status:    domain.GroupStatusRunning,
		TaskCount: len(urls),
	}

	unlock := s.lockKeys("group:" + group.ID)
	defer unlock()

	if err := s.groups.Create(ctx, group); err != nil {
		s.logger.Errorw("group_create_failed", "name", name, "error", err)
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	started := 0
	for n, url := range urls {
		taskID := fmt.Sprintf("%s-%d", group.ID, n+1)
		options := cloneOptions(input.Options)
		// members must not share an output file or work dir
		if saveName := optionString(options, optionSaveName); saveName != "" {
			options[optionSaveName] = fmt.Sprintf("%s-%d", saveName, n+1)
		}
		_, err := s.recorder.Start(ctx, ports.StartTaskInput{
			ID:       taskID,
			Username: input.Username,
			URL:      url,
			Options:  options,
			GroupID:  domain.StringPtr(group.ID),
		})
		if err != nil {
			s.logger.Warnw("group_member_start_failed", "group_id", group.ID, "task_id", taskID, "error", err)
			continue
		}
		started++
	}

	if started == 0 {
		group.Status = domain.GroupStatusFailed
		if err := s.groups.UpdateStatus(ctx, group.ID, group.Status); err != nil {
			s.logger.Warnw("group_status_update_failed", "group_id", group.ID, "error", err)
		}
	}

	s.logger.Infow("group_start_ok", "group_id", group.ID, "tasks", len(urls), "started", started)
	return group, nil
}

// StopGroup stops every member and marks the group stopped.
func (s *GroupService) StopGroup(ctx context.Context, groupID string) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return s.translateNotFound(err)
	}

	unlock := s.lockKeys("group:" + groupID)
	defer unlock()

	members, err := s.tasks.ListByGroup(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to list group tasks: %w", err)
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(groupStopConcurrency)
	for _, t := range members {
		taskID := t.ID
		g.Go(func() error {
			if err := s.recorder.Stop(ctx, taskID); err != nil {
				s.logger.Warnw("group_member_stop_failed", "group_id", groupID, "task_id", taskID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", taskID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := s.groups.UpdateStatus(ctx, groupID, domain.GroupStatusStopped); err != nil {
		errs = append(errs, fmt.Errorf("failed to update group status: %w", err))
	}

	s.logger.Infow("group_stop_ok", "group_id", groupID, "tasks", len(members), "failures", len(errs))
	return errors.Join(errs...)
}

// DeleteGroup removes every member (process, artifacts, history, record) and
// then the group itself. Member failures are logged and skipped.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID string) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return s.translateNotFound(err)
	}

	unlock := s.lockKeys("group:" + groupID)
	defer unlock()

	members, err := s.tasks.ListByGroup(ctx, groupID)
	if err != nil {
		s.logger.Warnw("group_member_list_failed", "group_id", groupID, "error", err)
	}

	failures := 0
	for _, t := range members {
		if err := s.recorder.Delete(ctx, t.ID); err != nil && !errors.Is(err, ErrTaskNotFound) {
			s.logger.Warnw("group_member_delete_failed", "group_id", groupID, "task_id", t.ID, "error", err)
			failures++
		}
	}

	if err := s.groups.Delete(ctx, groupID); err != nil {
		s.logger.Errorw("group_delete_failed", "group_id", groupID, "error", err)
		return fmt.Errorf("failed to delete group: %w", err)
	}

	s.logger.Infow("group_delete_ok", "group_id", groupID, "tasks", len(members), "failures", failures)
	return nil
}

func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*domain.TaskGroup, []domain.Task, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, nil, s.translateNotFound(err)
	}
	members, err := s.tasks.ListByGroup(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	for i := range members {
		if live, err := s.recorder.GetTask(ctx, members[i].ID); err == nil {
			members[i] = *live
		}
	}
	return group, members, nil
}

func (s *GroupService) ListGroups(ctx context.Context, username string) ([]domain.TaskGroup, error) {
	return s.groups.ListByUser(ctx, username)
}

// HandleMemberExit recomputes the group status once a member has been
// resolved. An explicitly stopped group stays stopped.
func (s *GroupService) HandleMemberExit(ctx context.Context, groupID string) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		s.logger.Debugw("group_refresh_skipped", "group_id", groupID, "error", err)
		return
	}
	members, err := s.tasks.ListByGroup(ctx, groupID)
	if err != nil {
		s.logger.Warnw("group_member_list_failed", "group_id", groupID, "error", err)
		return
	}

	status := GroupStatusOf(members)
	if group.Status == domain.GroupStatusStopped && status != domain.GroupStatusRunning {
		status = domain.GroupStatusStopped
	}
	if status == group.Status {
		return
	}
	if err := s.groups.UpdateStatus(ctx, groupID, status); err != nil {
		s.logger.Warnw("group_status_update_failed", "group_id", groupID, "error", err)
		return
	}
	s.logger.Infow("group_status_changed", "group_id", groupID, "from", group.Status, "to", status)
}

func (s *GroupService) translateNotFound(err error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return ErrGroupNotFound
	}
	return err
}
