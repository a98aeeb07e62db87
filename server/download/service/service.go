package service

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
)

// Cancelled tasks get this signal, the worker maps it to a terminated
// download.
const cancelSignal = syscall.SIGUSR1

type Options struct {
	RecentWindow time.Duration
	PageSize     int
}

type Service struct {
	repo     domain.Repository
	catalog  domain.Catalog
	files    domain.FileStore
	queue    domain.TaskQueue
	watcher  domain.TaskWatcher
	registry domain.BackendRegistry
	opts     Options
	now      func() time.Time
}

func New(
	repo domain.Repository,
	catalog domain.Catalog,
	files domain.FileStore,
	queue domain.TaskQueue,
	watcher domain.TaskWatcher,
	registry domain.BackendRegistry,
	opts Options,
) domain.Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.RecentWindow <= 0 {
		opts.RecentWindow = 24 * time.Hour
	}

	return &Service{
		repo:     repo,
		catalog:  catalog,
		files:    files,
		queue:    queue,
		watcher:  watcher,
		registry: registry,
		opts:     opts,
		now:      time.Now,
	}
}

// CreateDraft extracts the metadata of url and stores it as a draft.
// Unless override is set, older drafts of the same video are dropped and
// completed copies of it are returned instead of a new draft.
func (s *Service) CreateDraft(ctx context.Context, url string, cmd downloaders.Command, override bool) (*domain.Submission, error) {
	backend, err := s.registry.New(cmd)
	if err != nil {
		return nil, errors.Wrap(domain.ErrUnknownCommand, err.Error())
	}

	ex, err := backend.Extract(ctx, url)
	if err != nil {
		slog.Warn("extraction failed",
			slog.String("url", url),
			slog.String("command", string(cmd)),
			slog.Any("err", err),
		)
		return nil, err
	}

	if !override {
		n, err := s.repo.DeleteDrafts(ctx, ex.SlugID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			slog.Info("deleted stale drafts", slog.String("slug", ex.SlugID), slog.Int64("count", n))
		}

		existing, err := s.FindSameVideo(ctx, ex.SlugID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return &domain.Submission{Existing: existing}, nil
		}
	}

	source, err := s.catalog.Source(ctx, ex.Source)
	if err != nil {
		return nil, err
	}

	choices, err := s.resolveFormats(ctx, cmd, ex.Formats)
	if err != nil {
		return nil, err
	}

	d := &domain.Download{
		URL:         url,
		SlugID:      ex.SlugID,
		ChannelName: ex.ChannelName,
		Title:       ex.Title,
		SourceID:    source.ID,
		Source:      source,
		CommandTag:  cmd,
		Status:      domain.StatusDraft,
	}

	if err := s.repo.Create(ctx, d, choices); err != nil {
		return nil, err
	}

	slog.Info("draft created",
		slog.Uint64("download", uint64(d.ID)),
		slog.String("slug", d.SlugID),
		slog.Int("choices", len(choices)),
	)

	return &domain.Submission{Download: d}, nil
}

func (s *Service) resolveFormats(ctx context.Context, cmd downloaders.Command, infos []downloaders.FormatInfo) ([]domain.Format, error) {
	seen := make(map[uint]struct{}, len(infos))
	choices := make([]domain.Format, 0, len(infos))

	for _, fi := range infos {
		f, err := s.catalog.ResolveOrCreate(ctx, fi.Extension, fi.Resolution, cmd, fi.Code)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[f.ID]; dup {
			continue
		}
		seen[f.ID] = struct{}{}
		choices = append(choices, *f)
	}

	return choices, nil
}

// SelectFormat stores the chosen format of a draft and dispatches the
// download. Unless override is set, completed copies of the same video in
// the same format are returned instead.
func (s *Service) SelectFormat(ctx context.Context, id, formatID uint, override bool) (*domain.Submission, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.StatusDraft {
		return nil, &domain.TransitionError{From: d.Status, To: domain.StatusStarted}
	}

	choices, err := s.repo.Choices(ctx, id)
	if err != nil {
		return nil, err
	}
	if !offered(choices, formatID) {
		return nil, domain.ErrFormatNotOffered
	}

	if !override {
		existing, err := s.FindSameVideoAndFormat(ctx, d.SlugID, formatID)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			d, err = s.repo.Transition(ctx, id, func(dl *domain.Download) error {
				if dl.Status != domain.StatusDraft {
					return &domain.TransitionError{From: dl.Status, To: domain.StatusStarted}
				}
				dl.FileFormatID = &formatID
				return nil
			})
			if err != nil {
				return nil, err
			}
			return &domain.Submission{Download: d, Existing: existing}, nil
		}
	}

	taskID := uuid.NewString()

	// the row must be started before a worker can pick the task up
	d, err = s.repo.Transition(ctx, id, func(dl *domain.Download) error {
		if err := dl.MoveTo(domain.StatusStarted); err != nil {
			return err
		}
		dl.FileFormatID = &formatID
		dl.ActiveTaskID = taskID
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.queue.Publish(taskID, d.ID); err != nil {
		slog.Error("failed to dispatch download",
			slog.Uint64("download", uint64(d.ID)),
			slog.String("task", taskID),
			slog.Any("err", err),
		)
		_, ferr := s.repo.Transition(ctx, id, func(dl *domain.Download) error {
			dl.ClearFile()
			return dl.MoveTo(domain.StatusFailed)
		})
		if ferr != nil {
			slog.Error("failed to mark download as failed", slog.Uint64("download", uint64(id)), slog.Any("err", ferr))
		}
		return nil, errors.Wrap(err, "failed to dispatch download")
	}

	slog.Info("download started",
		slog.Uint64("download", uint64(d.ID)),
		slog.String("task", taskID),
		slog.Uint64("format", uint64(formatID)),
	)

	return &domain.Submission{Download: d}, nil
}

func offered(choices []domain.Format, formatID uint) bool {
	for _, f := range choices {
		if f.ID == formatID {
			return true
		}
	}
	return false
}

// Get returns a download after making sure a completed one still has its
// file.
func (s *Service) Get(ctx context.Context, id uint) (*domain.Download, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.markMissingIfGone(ctx, d)
}

func (s *Service) Choices(ctx context.Context, id uint) ([]domain.Format, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Choices(ctx, id)
}

// Archive deletes the file of a completed or missing download.
func (s *Service) Archive(ctx context.Context, id uint) (*domain.Download, error) {
	d, err := s.repo.Transition(ctx, id, func(dl *domain.Download) error {
		if !dl.Status.CanTransition(domain.StatusArchived) {
			return &domain.TransitionError{From: dl.Status, To: domain.StatusArchived}
		}
		if err := s.files.Remove(dl.FilePath); err != nil {
			return err
		}
		return dl.MoveTo(domain.StatusArchived)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("download archived", slog.Uint64("download", uint64(id)), slog.String("path", d.FilePath))
	return d, nil
}

// Cancel revokes the running task and terminates the download.
func (s *Service) Cancel(ctx context.Context, id uint) (*domain.Download, error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.StatusStarted {
		return nil, &domain.TransitionError{From: d.Status, To: domain.StatusTerminated}
	}

	if d.ActiveTaskID != "" {
		s.queue.Revoke(d.ActiveTaskID, true, cancelSignal)
	}

	d, err = s.repo.Transition(ctx, id, func(dl *domain.Download) error {
		if err := dl.MoveTo(domain.StatusTerminated); err != nil {
			return err
		}
		dl.ClearFile()
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("download cancelled", slog.Uint64("download", uint64(id)), slog.String("task", d.ActiveTaskID))
	return d, nil
}

func (s *Service) List(ctx context.Context, query string, page int) (*domain.Page, error) {
	return s.repo.Search(ctx, query, page, s.opts.PageSize)
}

// Home lists the non draft downloads of the recent window.
func (s *Service) Home(ctx context.Context) ([]domain.Download, error) {
	return s.repo.CreatedSince(ctx, s.now().Add(-s.opts.RecentWindow))
}

// Reconcile demotes every completed download whose file is gone.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	completed, err := s.repo.ListByStatus(ctx, domain.StatusCompleted)
	if err != nil {
		return 0, err
	}

	demoted := 0
	for i := range completed {
		if err := ctx.Err(); err != nil {
			return demoted, err
		}

		d, err := s.markMissingIfGone(ctx, &completed[i])
		if err != nil {
			slog.Error("reconciliation failed", slog.Uint64("download", uint64(completed[i].ID)), slog.Any("err", err))
			continue
		}
		if d.Status == domain.StatusMissing {
			demoted++
		}
	}

	slog.Info("reconciliation done", slog.Int("checked", len(completed)), slog.Int("missing", demoted))
	return demoted, nil
}

// Watch streams the task states of a started download.
func (s *Service) Watch(ctx context.Context, id uint) (<-chan kv.TaskState, func(), error) {
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if d.Status != domain.StatusStarted || d.ActiveTaskID == "" {
		return nil, nil, domain.ErrNoActiveTask
	}

	ch, cancel := s.watcher.Subscribe(d.ActiveTaskID)
	return ch, cancel, nil
}
