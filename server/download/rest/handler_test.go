package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/downloadui/download-ui/server/download/domain"
	"github.com/downloadui/download-ui/server/internal/downloaders"
	"github.com/downloadui/download-ui/server/internal/kv"
)

// stubService only implements what each test sets, the embedded nil
// interface panics on anything else.
type stubService struct {
	domain.Service

	create   func(url string, cmd downloaders.Command, override bool) (*domain.Submission, error)
	selectFn func(id, formatID uint, override bool) (*domain.Submission, error)
	get      func(id uint) (*domain.Download, error)
	list     func(query string, page int) (*domain.Page, error)
	watch    func(id uint) (<-chan kv.TaskState, func(), error)
	progress func(id uint) (*domain.Progress, error)
}

func (s *stubService) CreateDraft(_ context.Context, url string, cmd downloaders.Command, override bool) (*domain.Submission, error) {
	return s.create(url, cmd, override)
}

func (s *stubService) SelectFormat(_ context.Context, id, formatID uint, override bool) (*domain.Submission, error) {
	return s.selectFn(id, formatID, override)
}

func (s *stubService) Get(_ context.Context, id uint) (*domain.Download, error) {
	return s.get(id)
}

func (s *stubService) List(_ context.Context, query string, page int) (*domain.Page, error) {
	return s.list(query, page)
}

func (s *stubService) Watch(_ context.Context, id uint) (<-chan kv.TaskState, func(), error) {
	return s.watch(id)
}

func (s *stubService) Progress(_ context.Context, id uint) (*domain.Progress, error) {
	return s.progress(id)
}

func router(s domain.Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/downloads", New(s).ApplyRouter())
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateDraft(t *testing.T) {
	var gotOverride bool

	h := router(&stubService{
		create: func(url string, cmd downloaders.Command, override bool) (*domain.Submission, error) {
			gotOverride = override
			if url != "https://example.com/v" || cmd != downloaders.YoutubeDL {
				t.Errorf("unexpected args %q %q", url, cmd)
			}
			return &domain.Submission{Download: &domain.Download{ID: 7, Status: domain.StatusDraft}}, nil
		},
	})

	rec := do(t, h, http.MethodPost, "/downloads/?override", `{"url":" https://example.com/v ","command":"YTDL"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("got status %d: %s", rec.Code, rec.Body)
	}
	if !gotOverride {
		t.Error("override flag was not forwarded")
	}

	var d domain.Download
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatal(err)
	}
	if d.ID != 7 || d.Status != domain.StatusDraft {
		t.Errorf("unexpected body %+v", d)
	}
}

func TestCreateDraftExisting(t *testing.T) {
	h := router(&stubService{
		create: func(string, downloaders.Command, bool) (*domain.Submission, error) {
			return &domain.Submission{Existing: []domain.Download{{ID: 3}}}, nil
		},
	})

	rec := do(t, h, http.MethodPost, "/downloads/", `{"url":"u","command":"TWDL"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}

	var sub domain.Submission
	if err := json.NewDecoder(rec.Body).Decode(&sub); err != nil {
		t.Fatal(err)
	}
	if len(sub.Existing) != 1 || sub.Existing[0].ID != 3 {
		t.Errorf("unexpected body %+v", sub)
	}
}

func TestCreateDraftErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
		msg  string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, ""},
		{"empty url", `{"url":"  "}`, nil, http.StatusBadRequest, "url is required"},
		{"extraction", `{"url":"u"}`, &downloaders.ExtractionError{Message: "no video"}, http.StatusUnprocessableEntity, "Download failure: no video"},
		{"unknown command", `{"url":"u"}`, errors.Wrap(domain.ErrUnknownCommand, "XX"), http.StatusBadRequest, ""},
		{"internal", `{"url":"u"}`, errors.New("boom"), http.StatusInternalServerError, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := router(&stubService{
				create: func(string, downloaders.Command, bool) (*domain.Submission, error) {
					return nil, tt.err
				},
			})

			rec := do(t, h, http.MethodPost, "/downloads/", tt.body)
			if rec.Code != tt.code {
				t.Errorf("got status %d, want %d", rec.Code, tt.code)
			}
			if tt.msg != "" && strings.TrimSpace(rec.Body.String()) != tt.msg {
				t.Errorf("got body %q, want %q", rec.Body, tt.msg)
			}
		})
	}
}

func TestSelectFormat(t *testing.T) {
	h := router(&stubService{
		selectFn: func(id, formatID uint, override bool) (*domain.Submission, error) {
			switch formatID {
			case 1:
				return &domain.Submission{Download: &domain.Download{ID: id, Status: domain.StatusStarted}}, nil
			case 2:
				return &domain.Submission{
					Download: &domain.Download{ID: id, Status: domain.StatusDraft},
					Existing: []domain.Download{{ID: 1}},
				}, nil
			case 3:
				return nil, domain.ErrFormatNotOffered
			default:
				return nil, &domain.TransitionError{From: domain.StatusCompleted, To: domain.StatusStarted}
			}
		},
	})

	tests := []struct {
		body string
		code int
	}{
		{`{"file_format":1}`, http.StatusAccepted},
		{`{"file_format":2}`, http.StatusOK},
		{`{"file_format":3}`, http.StatusBadRequest},
		{`{"file_format":4}`, http.StatusConflict},
	}

	for _, tt := range tests {
		rec := do(t, h, http.MethodPut, "/downloads/5/format", tt.body)
		if rec.Code != tt.code {
			t.Errorf("%s: got status %d, want %d", tt.body, rec.Code, tt.code)
		}
	}
}

func TestGet(t *testing.T) {
	h := router(&stubService{
		get: func(id uint) (*domain.Download, error) {
			if id == 1 {
				return &domain.Download{ID: 1}, nil
			}
			return nil, domain.ErrNotFound
		},
	})

	if rec := do(t, h, http.MethodGet, "/downloads/1/", ""); rec.Code != http.StatusOK {
		t.Errorf("got status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/downloads/2/", ""); rec.Code != http.StatusNotFound {
		t.Errorf("got status %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/downloads/abc/", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d", rec.Code)
	}
}

func TestList(t *testing.T) {
	h := router(&stubService{
		list: func(query string, page int) (*domain.Page, error) {
			return &domain.Page{Page: page, PageSize: 20, Total: 1, Items: []domain.Download{{Title: query}}}, nil
		},
	})

	rec := do(t, h, http.MethodGet, "/downloads/?q=cats&page=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d", rec.Code)
	}

	var p domain.Page
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatal(err)
	}
	if p.Page != 2 || p.Items[0].Title != "cats" {
		t.Errorf("unexpected page %+v", p)
	}

	if rec := do(t, h, http.MethodGet, "/downloads/?page=0", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("got status %d", rec.Code)
	}
}

func TestWatch(t *testing.T) {
	states := make(chan kv.TaskState, 2)
	states <- kv.TaskState{ID: "t", Status: kv.TaskProgress, Info: kv.TaskInfo{PercentStr: "40.0%", Percent: 40}}
	states <- kv.TaskState{ID: "t", Status: kv.TaskSuccess, Info: kv.TaskInfo{PercentStr: "100.0%", Percent: 100}}

	unsubscribed := make(chan struct{})

	srv := httptest.NewServer(router(&stubService{
		watch: func(id uint) (<-chan kv.TaskState, func(), error) {
			if id != 9 {
				return nil, nil, domain.ErrNoActiveTask
			}
			return states, func() { close(unsubscribed) }, nil
		},
		progress: func(id uint) (*domain.Progress, error) {
			return &domain.Progress{Download: &domain.Download{ID: id}, TaskID: "t"}, nil
		},
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/downloads/9/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var snapshot domain.Progress
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatal(err)
	}
	if snapshot.TaskID != "t" {
		t.Errorf("unexpected snapshot %+v", snapshot)
	}

	var got []kv.TaskState
	for {
		var st kv.TaskState
		if err := conn.ReadJSON(&st); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("unexpected close %v", err)
			}
			break
		}
		got = append(got, st)
	}

	if len(got) != 2 || got[1].Status != kv.TaskSuccess {
		t.Errorf("unexpected states %+v", got)
	}

	<-unsubscribed

	rec := do(t, router(&stubService{
		watch: func(uint) (<-chan kv.TaskState, func(), error) {
			return nil, nil, domain.ErrNoActiveTask
		},
	}), http.MethodGet, "/downloads/1/ws", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("got status %d", rec.Code)
	}
}
