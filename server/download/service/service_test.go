package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/download/repository"
	"github.com/downloadui/download-ui/server/internal/catalog"
	"github.com/downloadui/download-ui/server/internal/database"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
	"github.com/downloadui/download-ui/server/internal/storage"
)

type fakeBackend struct {
	cmd        downloaders.Command
	extraction *downloaders.Extraction
	err        error
}

func (f *fakeBackend) Command() downloaders.Command { return f.cmd }

func (f *fakeBackend) Extract(ctx context.Context, url string) (*downloaders.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	ex := *f.extraction
	return &ex, nil
}

func (f *fakeBackend) Download(ctx context.Context, req downloaders.Request, hook downloaders.ProgressHook) error {
	return nil
}

func (f *fakeBackend) FormatSize(bytes int64) string { return "12MB" }

type fakeRegistry map[downloaders.Command]*fakeBackend

func (r fakeRegistry) New(cmd downloaders.Command) (downloaders.Backend, error) {
	b, ok := r[cmd]
	if !ok {
		return nil, errors.New("no backend")
	}
	return b, nil
}

func (r fakeRegistry) Commands() []downloaders.Command {
	return []downloaders.Command{downloaders.TwitchDL, downloaders.YoutubeDL}
}

type revocation struct {
	taskID    string
	terminate bool
	sig       syscall.Signal
}

type fakeQueue struct {
	store      *kv.Store
	published  []string
	revoked    []revocation
	publishErr error
}

func (q *fakeQueue) Publish(taskID string, downloadID uint) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, taskID)
	return q.store.Set(kv.TaskState{ID: taskID, DownloadID: downloadID, Status: kv.TaskPending})
}

func (q *fakeQueue) Poll(taskID string) (kv.TaskState, error) { return q.store.Get(taskID) }

func (q *fakeQueue) Revoke(taskID string, terminate bool, sig syscall.Signal) {
	q.revoked = append(q.revoked, revocation{taskID, terminate, sig})
}

type env struct {
	svc     domain.Service
	repo    domain.Repository
	queue   *fakeQueue
	store   *kv.Store
	backend *fakeBackend
	dir     string
}

var twitchClip = &downloaders.Extraction{
	Source:      "Twitch",
	Title:       "a clip",
	SlugID:      "FunnyClip",
	ChannelName: "streamer",
	Formats: []downloaders.FormatInfo{
		{Extension: "mp4", Resolution: "1080", Code: "1080"},
		{Extension: "mp4", Resolution: "720", Code: "720"},
	},
}

func setup(t *testing.T) *env {
	t.Helper()

	dir := t.TempDir()

	db, err := database.Open(database.Options{Path: filepath.Join(dir, "test.db")}, domain.Models()...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close(db) })

	store, _ := kv.NewStore(nil)
	q := &fakeQueue{store: store}
	backend := &fakeBackend{cmd: downloaders.TwitchDL, extraction: twitchClip}
	repo := repository.New(db)

	files, err := storage.NewLocal(dir)
	if err != nil {
		t.Fatal(err)
	}

	svc := New(
		repo,
		catalog.New(db),
		files,
		q,
		store,
		fakeRegistry{downloaders.TwitchDL: backend},
		Options{},
	)

	return &env{svc: svc, repo: repo, queue: q, store: store, backend: backend, dir: dir}
}

func (e *env) draft(t *testing.T) *domain.Download {
	t.Helper()
	return e.submit(t, false)
}

func (e *env) submit(t *testing.T, override bool) *domain.Download {
	t.Helper()

	sub, err := e.svc.CreateDraft(context.Background(), "https://twitch.tv/x", downloaders.TwitchDL, override)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Download == nil {
		t.Fatalf("expected a draft, got %+v", sub)
	}
	return sub.Download
}

// completed stores a finished download of the clip, with or without its
// file on disk.
func (e *env) completed(t *testing.T, withFile bool) *domain.Download {
	t.Helper()
	ctx := context.Background()

	d := e.submit(t, true)
	choices, _ := e.repo.Choices(ctx, d.ID)

	path := filepath.Join(e.dir, "twitch", fmt.Sprintf("clip-%d.mp4", d.ID))
	if withFile {
		os.MkdirAll(filepath.Dir(path), 0755)
		if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	d, err := e.repo.Transition(ctx, d.ID, func(dl *domain.Download) error {
		dl.FileFormatID = &choices[0].ID
		dl.Status = domain.StatusCompleted
		dl.FilePath = path
		dl.Size = "4 B"
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestTwitchScenario(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)
	if d.Status != domain.StatusDraft {
		t.Errorf("expected draft, got %s", d.Status)
	}
	if d.ActiveTaskID != "" {
		t.Errorf("a draft has no task, got %s", d.ActiveTaskID)
	}

	choices, err := e.svc.Choices(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(choices) != 2 || choices[0].FormatCode != "1080" {
		t.Fatalf("unexpected choices %+v", choices)
	}

	sub, err := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false)
	if err != nil {
		t.Fatal(err)
	}
	started := sub.Download
	if started.Status != domain.StatusStarted {
		t.Errorf("expected started, got %s", started.Status)
	}
	if started.ActiveTaskID == "" || len(e.queue.published) != 1 || e.queue.published[0] != started.ActiveTaskID {
		t.Errorf("expected the task to be enqueued, got %v / %s", e.queue.published, started.ActiveTaskID)
	}
	if started.FileFormatID == nil || *started.FileFormatID != choices[0].ID {
		t.Error("expected the selected format to be stored")
	}
}

func TestCreateDraftDeletesStaleDraft(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	first := e.draft(t)
	second := e.draft(t)

	if first.ID == second.ID {
		t.Fatal("expected a new draft")
	}
	if _, err := e.repo.Get(ctx, first.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected the stale draft to be deleted, got %v", err)
	}

	sub, err := e.svc.CreateDraft(ctx, "https://twitch.tv/x", downloaders.TwitchDL, true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.repo.Get(ctx, second.ID); err != nil {
		t.Errorf("override must keep older drafts, got %v", err)
	}
	if sub.Download == nil {
		t.Error("expected a draft")
	}
}

func TestCreateDraftReturnsExisting(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	done := e.completed(t, true)

	sub, err := e.svc.CreateDraft(ctx, "https://twitch.tv/x", downloaders.TwitchDL, false)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Download != nil {
		t.Errorf("expected no new draft, got %+v", sub.Download)
	}
	if len(sub.Existing) != 1 || sub.Existing[0].ID != done.ID {
		t.Errorf("expected the completed copy, got %+v", sub.Existing)
	}

	sub, err = e.svc.CreateDraft(ctx, "https://twitch.tv/x", downloaders.TwitchDL, true)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Download == nil || len(sub.Existing) != 0 {
		t.Errorf("override must create a draft, got %+v", sub)
	}
}

func TestFindSameVideoDemotesMissing(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	gone := e.completed(t, false)

	existing, err := e.svc.FindSameVideo(ctx, gone.SlugID)
	if err != nil {
		t.Fatal(err)
	}
	if len(existing) != 0 {
		t.Errorf("expected no reusable copy, got %d", len(existing))
	}

	got, _ := e.repo.Get(ctx, gone.ID)
	if got.Status != domain.StatusMissing {
		t.Errorf("expected missing, got %s", got.Status)
	}
}

func TestCreateDraftExtractionError(t *testing.T) {
	e := setup(t)
	e.backend.err = &downloaders.ExtractionError{Backend: "twitch-dl", Message: "Download Information not found"}

	_, err := e.svc.CreateDraft(context.Background(), "https://twitch.tv/x", downloaders.TwitchDL, false)

	var exErr *downloaders.ExtractionError
	if !errors.As(err, &exErr) {
		t.Errorf("expected an ExtractionError, got %v", err)
	}
}

func TestCreateDraftUnknownCommand(t *testing.T) {
	e := setup(t)

	_, err := e.svc.CreateDraft(context.Background(), "https://youtu.be/x", downloaders.YoutubeDL, false)
	if !errors.Is(err, domain.ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestSelectFormatValidation(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)

	if _, err := e.svc.SelectFormat(ctx, d.ID, 9999, false); !errors.Is(err, domain.ErrFormatNotOffered) {
		t.Errorf("expected ErrFormatNotOffered, got %v", err)
	}

	choices, _ := e.svc.Choices(ctx, d.ID)
	if _, err := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false); err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSelectFormatReturnsExisting(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	done := e.completed(t, true)

	sub, err := e.svc.CreateDraft(ctx, "https://twitch.tv/x", downloaders.TwitchDL, true)
	if err != nil {
		t.Fatal(err)
	}

	sel, err := e.svc.SelectFormat(ctx, sub.Download.ID, *done.FileFormatID, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Existing) != 1 || sel.Existing[0].ID != done.ID {
		t.Errorf("expected the completed copy, got %+v", sel.Existing)
	}
	if sel.Download.Status != domain.StatusDraft {
		t.Errorf("expected the draft to stay a draft, got %s", sel.Download.Status)
	}
	if len(e.queue.published) != 0 {
		t.Error("nothing must be enqueued")
	}

	choices, _ := e.svc.Choices(ctx, sub.Download.ID)
	other := choices[1].ID
	sel, err = e.svc.SelectFormat(ctx, sub.Download.ID, other, false)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Download.Status != domain.StatusStarted {
		t.Errorf("a different format must start, got %s", sel.Download.Status)
	}
}

func TestSelectFormatPublishFailure(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)
	choices, _ := e.svc.Choices(ctx, d.ID)
	e.queue.publishErr = errors.New("task queue is full")

	if _, err := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false); err == nil {
		t.Fatal("expected an error")
	}

	got, _ := e.repo.Get(ctx, d.ID)
	if got.Status != domain.StatusFailed || got.FilePath != domain.NotAvailable {
		t.Errorf("expected a failed download, got %s %s", got.Status, got.FilePath)
	}
}

func TestArchive(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	withFile := e.completed(t, true)

	archived, err := e.svc.Archive(ctx, withFile.ID)
	if err != nil {
		t.Fatal(err)
	}
	if archived.Status != domain.StatusArchived {
		t.Errorf("expected archived, got %s", archived.Status)
	}
	if _, err := os.Stat(withFile.FilePath); !os.IsNotExist(err) {
		t.Error("expected the file to be deleted")
	}

	noFile := e.completed(t, false)
	archived, err = e.svc.Archive(ctx, noFile.ID)
	if err != nil {
		t.Fatalf("archiving without a file must succeed, got %v", err)
	}
	if archived.Status != domain.StatusArchived {
		t.Errorf("expected archived, got %s", archived.Status)
	}

	draft := e.draft(t)
	if _, err := e.svc.Archive(ctx, draft.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)
	choices, _ := e.svc.Choices(ctx, d.ID)
	sub, _ := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false)

	cancelled, err := e.svc.Cancel(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Status != domain.StatusTerminated || cancelled.FilePath != domain.NotAvailable || cancelled.Size != domain.NotAvailable {
		t.Errorf("unexpected cancelled download %+v", cancelled)
	}

	want := revocation{sub.Download.ActiveTaskID, true, syscall.SIGUSR1}
	if len(e.queue.revoked) != 1 || e.queue.revoked[0] != want {
		t.Errorf("expected %+v, got %+v", want, e.queue.revoked)
	}

	if _, err := e.svc.Cancel(ctx, d.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	done := e.completed(t, true)
	if _, err := e.svc.Cancel(ctx, done.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("a completed download cannot be cancelled, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)

	p, err := e.svc.Progress(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.TaskInfo != nil || p.TaskID != "" {
		t.Errorf("a draft has no task progress, got %+v", p)
	}

	choices, _ := e.svc.Choices(ctx, d.ID)
	sub, _ := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false)
	taskID := sub.Download.ActiveTaskID

	p, _ = e.svc.Progress(ctx, d.ID)
	if p.TaskStatus != kv.TaskPending || p.TaskInfo.PercentStr != "0.0%" || p.TaskInfo.Percent != 0 {
		t.Errorf("expected zero progress, got %+v %+v", p, p.TaskInfo)
	}

	e.store.Update(taskID, func(ts *kv.TaskState) {
		ts.Status = kv.TaskProgress
		ts.Info = kv.TaskInfo{PercentStr: "59.8%", Percent: 60}
	})

	p, _ = e.svc.Progress(ctx, d.ID)
	if p.TaskStatus != kv.TaskProgress || p.TaskInfo.Percent != 60 || p.TaskID != taskID {
		t.Errorf("unexpected progress %+v %+v", p, p.TaskInfo)
	}
}

func TestWatch(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.draft(t)
	if _, _, err := e.svc.Watch(ctx, d.ID); !errors.Is(err, domain.ErrNoActiveTask) {
		t.Errorf("expected ErrNoActiveTask, got %v", err)
	}

	choices, _ := e.svc.Choices(ctx, d.ID)
	sub, _ := e.svc.SelectFormat(ctx, d.ID, choices[0].ID, false)

	ch, cancel, err := e.svc.Watch(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	e.store.Update(sub.Download.ActiveTaskID, func(ts *kv.TaskState) { ts.Status = kv.TaskStarted })

	if st := <-ch; st.Status != kv.TaskStarted {
		t.Errorf("expected started, got %s", st.Status)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	kept := e.completed(t, true)
	gone := e.completed(t, false)

	n, err := e.svc.Reconcile(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 demotion, got %d", n)
	}

	n, _ = e.svc.Reconcile(ctx)
	if n != 0 {
		t.Errorf("a second pass must not demote anything, got %d", n)
	}

	if got, _ := e.repo.Get(ctx, gone.ID); got.Status != domain.StatusMissing {
		t.Errorf("expected missing, got %s", got.Status)
	}
	if got, _ := e.repo.Get(ctx, kept.ID); got.Status != domain.StatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestGetDemotesMissing(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	d := e.completed(t, true)
	os.Remove(d.FilePath)

	got, err := e.svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusMissing {
		t.Errorf("expected missing, got %s", got.Status)
	}
}

func TestHomeAndList(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	e.completed(t, true)
	e.submit(t, true)

	home, err := e.svc.Home(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(home) != 1 || home[0].Status != domain.StatusCompleted {
		t.Errorf("expected only the completed download, got %+v", home)
	}

	page, err := e.svc.List(ctx, "twitch", 1)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || page.PageSize != 20 {
		t.Errorf("unexpected page %+v", page)
	}
}
