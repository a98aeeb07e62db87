package task

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
	"github.com/downloadui/download-ui/server/internal/queue"
)

// TaskResults is where progress is published for pollers.
type TaskResults interface {
	Get(id string) (kv.TaskState, error)
	Update(id string, fn func(*kv.TaskState)) (kv.TaskState, error)
}

// Runner executes the download of a started record and writes its final
// state exactly once.
type Runner struct {
	repo     domain.Repository
	registry domain.BackendRegistry
	files    domain.FileStore
	results  TaskResults
}

func NewRunner(
	repo domain.Repository,
	registry domain.BackendRegistry,
	files domain.FileStore,
	results TaskResults,
) *Runner {
	return &Runner{
		repo:     repo,
		registry: registry,
		files:    files,
		results:  results,
	}
}

type outcome struct {
	status   domain.Status
	filePath string
	size     string
}

func failed() outcome {
	return outcome{
		status:   domain.StatusFailed,
		filePath: domain.NotAvailable,
		size:     domain.NotAvailable,
	}
}

// Handle is the queue handler of download tasks.
func (r *Runner) Handle(ctx context.Context, job queue.Job) (err error) {
	// revocation cancels ctx, the record must still be written
	dbCtx := context.WithoutCancel(ctx)

	d, err := r.repo.Transition(dbCtx, job.DownloadID, func(dl *domain.Download) error {
		if dl.Status != domain.StatusStarted {
			return &domain.TransitionError{From: dl.Status, To: domain.StatusStarted}
		}
		dl.ActiveTaskID = job.TaskID
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "download %d cannot run", job.DownloadID)
	}

	res := failed()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("download task panicked",
				slog.Uint64("download", uint64(d.ID)),
				slog.Any("panic", rec),
			)
			res = failed()
			err = fmt.Errorf("download task panicked: %v", rec)
		}
		r.finalize(dbCtx, job, res)
	}()

	res, err = r.download(ctx, d, job)
	return err
}

func (r *Runner) download(ctx context.Context, d *domain.Download, job queue.Job) (outcome, error) {
	if d.FileFormat == nil {
		return failed(), errors.Errorf("download %d has no format", d.ID)
	}

	backend, err := r.registry.New(d.CommandTag)
	if err != nil {
		return failed(), err
	}

	code := d.FileFormat.FormatCode
	state := downloaders.NewStageState(code)

	hook := func(ev downloaders.ProgressEvent) {
		next, update, err := downloaders.Relay(state, ev)
		state = next
		if err != nil {
			slog.Debug("ignoring progress event", slog.String("task", job.TaskID), slog.Any("err", err))
			return
		}
		if update != nil {
			r.publish(job.TaskID, update)
		}
	}

	slog.Info("download running",
		slog.Uint64("download", uint64(d.ID)),
		slog.String("task", job.TaskID),
		slog.String("command", string(d.CommandTag)),
		slog.String("code", code),
	)

	err = backend.Download(ctx, downloaders.Request{
		URL:        d.URL,
		Code:       code,
		DownloadID: d.ID,
	}, hook)

	switch {
	case downloaders.Interrupted(err):
		slog.Warn("download interrupted", slog.Uint64("download", uint64(d.ID)), slog.Any("cause", err))
		res := failed()
		res.status = domain.StatusTerminated
		return res, err
	case err != nil:
		slog.Error("download failed", slog.Uint64("download", uint64(d.ID)), slog.Any("err", err))
		return failed(), err
	}

	st, err := r.results.Get(job.TaskID)
	if err != nil || st.Info.Filename == "" {
		return failed(), errors.Errorf("download %d finished without a file name", d.ID)
	}

	size, err := r.files.Size(st.Info.Filename)
	if err != nil {
		slog.Error("download file is not readable",
			slog.Uint64("download", uint64(d.ID)),
			slog.String("path", st.Info.Filename),
			slog.Any("err", err),
		)
		return failed(), err
	}

	return outcome{
		status:   domain.StatusCompleted,
		filePath: st.Info.Filename,
		size:     backend.FormatSize(size),
	}, nil
}

func (r *Runner) publish(taskID string, u *downloaders.Update) {
	_, err := r.results.Update(taskID, func(ts *kv.TaskState) {
		ts.Status = kv.TaskProgress
		if u.Filename != "" {
			ts.Info.Filename = u.Filename
			return
		}
		ts.Info.PercentStr = u.PercentStr
		ts.Info.Percent = u.Percent
	})
	if err != nil {
		slog.Warn("failed to publish progress", slog.String("task", taskID), slog.Any("err", err))
	}
}

// finalize only applies to a started record, so a cancel that already
// terminated the download wins over a late completion.
func (r *Runner) finalize(ctx context.Context, job queue.Job, res outcome) {
	d, err := r.repo.Transition(ctx, job.DownloadID, func(dl *domain.Download) error {
		if dl.ActiveTaskID != job.TaskID {
			return errors.Errorf("download %d belongs to task %s", dl.ID, dl.ActiveTaskID)
		}
		if err := dl.MoveTo(res.status); err != nil {
			return err
		}
		dl.FilePath = res.filePath
		dl.Size = res.size
		return nil
	})
	if err != nil {
		slog.Warn("download not finalized",
			slog.Uint64("download", uint64(job.DownloadID)),
			slog.String("task", job.TaskID),
			slog.String("status", string(res.status)),
			slog.Any("err", err),
		)
		return
	}

	slog.Info("download finalized",
		slog.Uint64("download", uint64(d.ID)),
		slog.String("status", string(d.Status)),
		slog.String("path", d.FilePath),
		slog.String("size", d.Size),
	)
}

// Recover fails the downloads left started by a previous process. Their
// tasks cannot be resumed.
func (r *Runner) Recover(ctx context.Context) (int, error) {
	started, err := r.repo.ListByStatus(ctx, domain.StatusStarted)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, d := range started {
		_, err := r.repo.Transition(ctx, d.ID, func(dl *domain.Download) error {
			if err := dl.MoveTo(domain.StatusFailed); err != nil {
				return err
			}
			dl.ClearFile()
			return nil
		})
		if err != nil {
			slog.Error("failed to recover download", slog.Uint64("download", uint64(d.ID)), slog.Any("err", err))
			continue
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("failed interrupted downloads", slog.Int("count", recovered))
	}
	return recovered, nil
}
