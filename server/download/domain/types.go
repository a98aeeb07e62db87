package domain

import (
	"context"
	"net/http"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
)

type Page struct {
	Items    []Download `json:"items"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type Repository interface {
	Create(ctx context.Context, d *Download, choices []Format) error
	Get(ctx context.Context, id uint) (*Download, error)
	// Save fails with ErrStaleRecord if the row changed since d was read.
	Save(ctx context.Context, d *Download) error
	// Transition loads the row, applies fn and saves, retrying on
	// ErrStaleRecord.
	Transition(ctx context.Context, id uint, fn func(*Download) error) (*Download, error)
	Delete(ctx context.Context, id uint) error
	DeleteDrafts(ctx context.Context, slugID string) (int64, error)
	FindCompleted(ctx context.Context, slugID string, formatID *uint) ([]Download, error)
	ListByStatus(ctx context.Context, status Status) ([]Download, error)
	Search(ctx context.Context, query string, page, pageSize int) (*Page, error)
	CreatedSince(ctx context.Context, since time.Time) ([]Download, error)
	Choices(ctx context.Context, id uint) ([]Format, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}

type Catalog interface {
	ResolveOrCreate(ctx context.Context, extension, quality string, cmd downloaders.Command, code string) (*Format, error)
	Source(ctx context.Context, name string) (*Source, error)
	SeedCommands(ctx context.Context, cmds []downloaders.Command) error
	Commands(ctx context.Context) ([]Command, error)
}

type FileStore interface {
	Exists(path string) bool
	Remove(path string) error
	Size(path string) (int64, error)
}

type TaskQueue interface {
	Publish(taskID string, downloadID uint) error
	Poll(taskID string) (kv.TaskState, error)
	Revoke(taskID string, terminate bool, sig syscall.Signal)
}

// TaskWatcher streams the states of a task as they are written.
type TaskWatcher interface {
	Subscribe(taskID string) (<-chan kv.TaskState, func())
}

type BackendRegistry interface {
	New(cmd downloaders.Command) (downloaders.Backend, error)
	Commands() []downloaders.Command
}

// Submission is the outcome of CreateDraft and SelectFormat. Existing is
// set instead of Download when completed copies were found.
type Submission struct {
	Download *Download  `json:"download,omitempty"`
	Existing []Download `json:"existing,omitempty"`
}

type Progress struct {
	Download   *Download     `json:"download"`
	TaskStatus kv.TaskStatus `json:"task_status,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
	TaskInfo   *kv.TaskInfo  `json:"task_info,omitempty"`
}

type Service interface {
	CreateDraft(ctx context.Context, url string, cmd downloaders.Command, override bool) (*Submission, error)
	SelectFormat(ctx context.Context, id, formatID uint, override bool) (*Submission, error)
	Get(ctx context.Context, id uint) (*Download, error)
	Choices(ctx context.Context, id uint) ([]Format, error)
	Progress(ctx context.Context, id uint) (*Progress, error)
	Watch(ctx context.Context, id uint) (<-chan kv.TaskState, func(), error)
	Archive(ctx context.Context, id uint) (*Download, error)
	Cancel(ctx context.Context, id uint) (*Download, error)
	List(ctx context.Context, query string, page int) (*Page, error)
	Home(ctx context.Context) ([]Download, error)
	FindSameVideo(ctx context.Context, slugID string) ([]Download, error)
	FindSameVideoAndFormat(ctx context.Context, slugID string, formatID uint) ([]Download, error)
	Reconcile(ctx context.Context) (int, error)
}

type RestHandler interface {
	Create() http.HandlerFunc
	SelectFormat() http.HandlerFunc
	Get() http.HandlerFunc
	Choices() http.HandlerFunc
	Progress() http.HandlerFunc
	Watch() http.HandlerFunc
	Archive() http.HandlerFunc
	Cancel() http.HandlerFunc
	List() http.HandlerFunc
	Home() http.HandlerFunc
	ApplyRouter() func(chi.Router)
}
