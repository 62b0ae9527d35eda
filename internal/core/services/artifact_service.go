package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

// Recorder temp directories are often named after the start time,
// e.g. 2024-05-01_13-45-10 or 20240501134510.
var timestampDirPattern = regexp.MustCompile(`^(\d{4})-?(\d{2})-?(\d{2})[_T\- ]?\d{2}[-:.]?\d{2}[-:.]?\d{2}`)

type ArtifactServiceConfig struct {
	DownloadsRoot string
	TempRoot      string
	Logger        *logger.Logger
	// InUse, when set, protects temp directories owned by live tasks from
	// every matcher except the task's own recorded directory.
	InUse func(dir string) bool
	Now   func() time.Time
}

// ArtifactService finds the files a recorder actually produced and removes
// them without ever leaving the downloads and temp roots.
type ArtifactService struct {
	downloadsRoot string
	tempRoot      string
	logger        *logger.Logger
	inUse         func(dir string) bool
	now           func() time.Time
	matchers      []tempDirMatcher
}

// tempDirMatcher proposes temp directories that may belong to a task.
type tempDirMatcher struct {
	name string
	// fallback matchers only run when no earlier matcher produced anything.
	fallback bool
	// own matchers return the task's own directory, which is never in use
	// by another task.
	own   bool
	match func(s *ArtifactService, task *domain.Task, entries []os.DirEntry) []string
}

func NewArtifactService(cfg ArtifactServiceConfig) *ArtifactService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &ArtifactService{
		downloadsRoot: cfg.DownloadsRoot,
		tempRoot:      cfg.TempRoot,
		logger:        cfg.Logger,
		inUse:         cfg.InUse,
		now:           cfg.Now,
	}
	s.matchers = []tempDirMatcher{
		{name: "recorded", own: true, match: matchRecordedTempDir},
		{name: "basename", match: matchBasenameTempDir},
		{name: "task_id", match: matchTaskIDTempDir},
		{name: "timestamp_today", fallback: true, match: matchTodayTempDir},
	}
	return s
}

// ResolveArtifact returns the file on disk for an expected output path. The
// exact path wins; otherwise any file in the same directory whose name
// without extension matches is accepted.
func (s *ArtifactService) ResolveArtifact(expected string) (string, bool) {
	if expected == "" {
		return "", false
	}
	if info, err := os.Stat(expected); err == nil && info.Mode().IsRegular() {
		return expected, true
	}
	matches := siblingsByBasename(expected)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// StatArtifact resolves expected and returns the resolved path and its size.
func (s *ArtifactService) StatArtifact(expected string) (string, int64, bool) {
	path, ok := s.ResolveArtifact(expected)
	if !ok {
		return "", 0, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", 0, false
	}
	return path, info.Size(), true
}

// DeleteTaskArtifacts removes the task's output file, its basename siblings
// and every temp directory the matchers attribute to it. Individual failures
// are logged and joined into the returned error; they never stop the sweep.
func (s *ArtifactService) DeleteTaskArtifacts(task *domain.Task) error {
	var errs []error

	if task.OutputFile != nil && *task.OutputFile != "" {
		for _, path := range s.outputCandidates(*task.OutputFile) {
			if err := s.removeWithin(s.downloadsRoot, path, false); err != nil {
				s.logger.Warnw("artifact_delete_file_failed", "task_id", task.ID, "path", path, "error", err)
				errs = append(errs, err)
				continue
			}
			s.logger.Infow("artifact_delete_file_ok", "task_id", task.ID, "path", path)
		}
	}

	for _, dir := range s.TempDirCandidates(task) {
		if err := s.removeWithin(s.tempRoot, dir, true); err != nil {
			s.logger.Warnw("artifact_delete_dir_failed", "task_id", task.ID, "path", dir, "error", err)
			errs = append(errs, err)
			continue
		}
		s.logger.Infow("artifact_delete_dir_ok", "task_id", task.ID, "path", dir)
	}

	return errors.Join(errs...)
}

func (s *ArtifactService) outputCandidates(expected string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	if info, err := os.Lstat(expected); err == nil && !info.IsDir() {
		add(expected)
	}
	for _, p := range siblingsByBasename(expected) {
		add(p)
	}
	return out
}

// TempDirCandidates runs the matchers in order and returns every distinct
// directory they propose, minus directories live tasks are using. Containment
// is checked later, per candidate.
func (s *ArtifactService) TempDirCandidates(task *domain.Task) []string {
	var entries []os.DirEntry
	if s.tempRoot != "" {
		if list, err := os.ReadDir(s.tempRoot); err == nil {
			entries = list
		} else if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warnw("artifact_temp_root_unreadable", "path", s.tempRoot, "error", err)
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, m := range s.matchers {
		if m.fallback && len(out) > 0 {
			break
		}
		for _, dir := range m.match(s, task, entries) {
			key := filepath.Clean(dir)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if !m.own && s.inUse != nil && s.inUse(key) {
				s.logger.Debugw("artifact_temp_dir_in_use", "task_id", task.ID, "matcher", m.name, "path", key)
				continue
			}
			out = append(out, key)
			s.logger.Debugw("artifact_temp_dir_matched", "task_id", task.ID, "matcher", m.name, "path", key)
		}
	}
	return out
}

func matchRecordedTempDir(_ *ArtifactService, task *domain.Task, _ []os.DirEntry) []string {
	if task.TempDir == nil || *task.TempDir == "" {
		return nil
	}
	if info, err := os.Stat(*task.TempDir); err != nil || !info.IsDir() {
		return nil
	}
	return []string{*task.TempDir}
}

func matchBasenameTempDir(s *ArtifactService, task *domain.Task, entries []os.DirEntry) []string {
	if task.OutputFile == nil || *task.OutputFile == "" {
		return nil
	}
	base := stripExt(filepath.Base(*task.OutputFile))
	var out []string
	for _, e := range entries {
		if e.IsDir() && e.Name() == base {
			out = append(out, filepath.Join(s.tempRoot, e.Name()))
		}
	}
	return out
}

func matchTaskIDTempDir(s *ArtifactService, task *domain.Task, entries []os.DirEntry) []string {
	needles := []string{task.ID}
	// Members of a group share the leading segment, so only loose tasks use it.
	if lead := leadingSegment(task.ID); task.GroupID == nil && lead != task.ID && len(lead) >= 6 {
		needles = append(needles, lead)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		for _, n := range needles {
			if containsToken(e.Name(), n) {
				out = append(out, filepath.Join(s.tempRoot, e.Name()))
				break
			}
		}
	}
	return out
}

func matchTodayTempDir(s *ArtifactService, _ *domain.Task, entries []os.DirEntry) []string {
	today := s.now().Format("20060102")
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := timestampDirPattern.FindStringSubmatch(e.Name())
		if m == nil || m[1]+m[2]+m[3] != today {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().Format("20060102") != today {
			continue
		}
		out = append(out, filepath.Join(s.tempRoot, e.Name()))
	}
	return out
}

// SweepTempRoot removes top-level temp directories untouched for maxAge that
// no live task is using, and returns what it removed.
func (s *ArtifactService) SweepTempRoot(maxAge time.Duration) ([]string, error) {
	if s.tempRoot == "" {
		return nil, ErrArtifactRootMissing
	}
	entries, err := os.ReadDir(s.tempRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	cutoff := s.now().Add(-maxAge)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(s.tempRoot, e.Name())
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if s.inUse != nil && s.inUse(dir) {
			continue
		}
		if err := s.removeWithin(s.tempRoot, dir, true); err != nil {
			s.logger.Warnw("artifact_sweep_failed", "path", dir, "error", err)
			continue
		}
		removed = append(removed, dir)
	}
	return removed, nil
}

// removeWithin deletes path only if it resolves to somewhere strictly inside root.
func (s *ArtifactService) removeWithin(root, path string, recursive bool) error {
	if root == "" {
		return ErrArtifactRootMissing
	}
	inside, err := isWithin(root, path)
	if err != nil {
		return err
	}
	if !inside {
		s.logger.Warnw("artifact_delete_rejected", "root", root, "path", path)
		return fmt.Errorf("%w: %s", ErrArtifactOutsideRoot, path)
	}
	if recursive {
		return os.RemoveAll(path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// isWithin resolves symlinks on both sides so a link inside root pointing
// elsewhere is treated as outside. The root itself is not "within".
func isWithin(root, path string) (bool, error) {
	absRoot, err := resolvePath(root)
	if err != nil {
		return false, err
	}
	absPath, err := resolvePath(path)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false, nil
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false, nil
	}
	return true, nil
}

// resolvePath makes path absolute and follows symlinks for whatever prefix of
// it exists.
func resolvePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	dir, file := filepath.Split(abs)
	dir = filepath.Clean(dir)
	if dir == abs {
		return abs, nil
	}
	parent, err := resolvePath(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(parent, file), nil
}

// siblingsByBasename lists regular files next to expected whose name without
// extension equals expected's.
func siblingsByBasename(expected string) []string {
	dir := filepath.Dir(expected)
	want := stripExt(filepath.Base(expected))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if stripExt(e.Name()) == want {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

func stripExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// containsToken reports whether needle occurs in name with no letter or digit
// directly before or after it, so "job-1" matches "job-1_tmp" but not "job-10".
func containsToken(name, needle string) bool {
	if needle == "" {
		return false
	}
	for from := 0; from+len(needle) <= len(name); {
		i := strings.Index(name[from:], needle)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(needle)
		if (start == 0 || !isAlnum(name[start-1])) && (end == len(name) || !isAlnum(name[end])) {
			return true
		}
		from = start + 1
	}
	return false
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func leadingSegment(id string) string {
	if i := strings.IndexAny(id, "-_"); i > 0 {
		return id[:i]
	}
	return id
}

func samePath(a, b string) bool {
	ra, errA := resolvePath(a)
	rb, errB := resolvePath(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ra == rb
}
