package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// File names inside the output directory.
const (
	LastFile   = "last.born"
	BestFile   = "model_best.born"
	tmpFile    = "tmp.born"
	filePrefix = "checkpoint-"
	fileExt    = ".born"
)

// DefaultMaxHistory is the number of per-epoch checkpoints kept.
const DefaultMaxHistory = 10

// Source snapshots the current training state.
type Source interface {
	Snapshot(epoch int, metric float64) (*State, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(epoch int, metric float64) (*State, error)

// Snapshot implements Source.
func (f SourceFunc) Snapshot(epoch int, metric float64) (*State, error) {
	return f(epoch, metric)
}

// SaverOption configures a Saver.
type SaverOption func(*Saver)

// WithMaxHistory sets how many checkpoint-<epoch> files are kept.
func WithMaxHistory(n int) SaverOption {
	return func(s *Saver) { s.maxHistory = n }
}

// WithIncreasing treats higher metrics as better.
func WithIncreasing() SaverOption {
	return func(s *Saver) { s.decreasing = false }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SaverOption {
	return func(s *Saver) { s.log = l }
}

type entry struct {
	path   string
	epoch  int
	metric float64
}

// Saver writes a checkpoint every epoch and keeps the best MaxHistory of them
// plus a copy of the overall best:
//
//	last.born              rewritten every epoch
//	checkpoint-<epoch>.born best MaxHistory epochs, worst pruned first
//	model_best.born        best epoch so far
//
// With the default decreasing policy lower metrics are better and ties keep
// the earlier epoch.
type Saver struct {
	dir        string
	src        Source
	maxHistory int
	decreasing bool
	log        *slog.Logger

	history []entry // best first
	best    *entry
}

// NewSaver creates a saver writing into dir, which must exist.
func NewSaver(dir string, src Source, opts ...SaverOption) (*Saver, error) {
	s := &Saver{
		dir:        dir,
		src:        src,
		maxHistory: DefaultMaxHistory,
		decreasing: true,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxHistory < 0 {
		return nil, fmt.Errorf("max history must not be negative, got %d", s.maxHistory)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("checkpoint dir %s is not a directory", dir)
	}
	return s, nil
}

// Best returns the best metric and its epoch; ok is false before the first
// save.
func (s *Saver) Best() (metric float64, epoch int, ok bool) {
	if s.best == nil {
		return 0, 0, false
	}
	return s.best.metric, s.best.epoch, true
}

// SetBest seeds the best metric, e.g. from a resumed checkpoint. It does not
// touch model_best.born.
func (s *Saver) SetBest(metric float64, epoch int) {
	s.best = &entry{path: filepath.Join(s.dir, BestFile), epoch: epoch, metric: metric}
}

// ResumeBest seeds the best metric and copies src, the checkpoint holding
// that best state, to model_best.born in the saver's directory.
func (s *Saver) ResumeBest(src string, metric float64, epoch int) error {
	dst := filepath.Join(s.dir, BestFile)
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", dst, err)
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	s.SetBest(metric, epoch)
	return nil
}

// History returns the kept checkpoint files, best first.
func (s *Saver) History() []string {
	out := make([]string, len(s.history))
	for i, e := range s.history {
		out[i] = e.path
	}
	return out
}

// SaveCheckpoint stores the state for epoch and returns the best metric and
// epoch so far.
func (s *Saver) SaveCheckpoint(epoch int, metric float64) (float64, int, error) {
	st, err := s.src.Snapshot(epoch, metric)
	if err != nil {
		return 0, 0, fmt.Errorf("snapshot epoch %d: %w", epoch, err)
	}

	improves := s.best == nil || s.better(metric, s.best.metric)
	if improves {
		st.HasBest, st.BestMetric, st.BestEpoch = true, metric, epoch
	} else {
		st.HasBest, st.BestMetric, st.BestEpoch = true, s.best.metric, s.best.epoch
	}

	tmp := filepath.Join(s.dir, tmpFile)
	last := filepath.Join(s.dir, LastFile)
	if err := WriteFile(tmp, st); err != nil {
		return 0, 0, err
	}
	if err := os.Rename(tmp, last); err != nil {
		return 0, 0, fmt.Errorf("failed to replace %s: %w", last, err)
	}

	if s.keep(metric) {
		if len(s.history) >= s.maxHistory {
			if err := s.prune(len(s.history) - s.maxHistory + 1); err != nil {
				return 0, 0, err
			}
		}
		path := filepath.Join(s.dir, filePrefix+strconv.Itoa(epoch)+fileExt)
		if err := replaceWithLink(last, path); err != nil {
			return 0, 0, err
		}
		s.history = append(s.history, entry{path: path, epoch: epoch, metric: metric})
		slices.SortStableFunc(s.history, func(a, b entry) int {
			switch {
			case s.better(a.metric, b.metric):
				return -1
			case s.better(b.metric, a.metric):
				return 1
			default:
				return 0
			}
		})
		s.logHistory()
	}

	if improves {
		best := filepath.Join(s.dir, BestFile)
		if err := replaceWithLink(last, best); err != nil {
			return 0, 0, err
		}
		s.best = &entry{path: best, epoch: epoch, metric: metric}
	}

	return s.best.metric, s.best.epoch, nil
}

// better reports whether a beats b. NaN never beats anything.
func (s *Saver) better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	if s.decreasing {
		return a < b
	}
	return a > b
}

func (s *Saver) keep(metric float64) bool {
	if s.maxHistory == 0 {
		return false
	}
	if len(s.history) < s.maxHistory {
		return true
	}
	return s.better(metric, s.history[len(s.history)-1].metric)
}

// prune deletes the n worst kept checkpoints.
func (s *Saver) prune(n int) error {
	n = min(n, len(s.history))
	for _, e := range s.history[len(s.history)-n:] {
		s.log.Debug("removing checkpoint", "path", e.path)
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", e.path, err)
		}
	}
	s.history = s.history[:len(s.history)-n]
	return nil
}

func (s *Saver) logHistory() {
	var b strings.Builder
	for _, e := range s.history {
		fmt.Fprintf(&b, " (%s, %g)", filepath.Base(e.path), e.metric)
	}
	s.log.Info("current checkpoints", "history", strings.TrimSpace(b.String()))
}

// replaceWithLink makes dst a hard link to src, falling back to a copy where
// links are not supported.
func replaceWithLink(src, dst string) error {
	if err := os.Remove(dst); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", dst, err)
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	//nolint:gosec // G304: src is a checkpoint chosen by the operator or written by the saver
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	//nolint:gosec // G304: both paths are inside the output directory
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}
