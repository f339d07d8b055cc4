package ingress

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/altify/altify/internal/adminsafety"
	"github.com/altify/altify/internal/auth"
	"github.com/altify/altify/internal/blob"
	"github.com/altify/altify/internal/broker"
	"github.com/altify/altify/internal/domain"
	"github.com/altify/altify/internal/ratelimit"
	"github.com/altify/altify/internal/store"
	"github.com/altify/altify/internal/validate"
	"github.com/altify/altify/pkg/altifyapi"
)

const onePxPNGBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNk+A8AAQUBAScY42YAAAAASUVORK5CYII="

func newTestServer() *Server {
	return NewServer(
		store.NewMemoryStore(),
		blob.NewMemoryStore(),
		broker.NewMemoryBroker(),
		validate.NewAllowAll(),
		&auth.Authorizer{},
		ratelimit.NewSubmitLimiterFromEnv(),
		adminsafety.NewFromEnv(),
		zerolog.Nop(),
		time.Hour, time.Hour,
		time.Hour,
	)
}

func buildUploadBody(t *testing.T, context string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	fw, err := w.CreateFormFile("image", "pixel.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	pngBytes, err := base64.StdEncoding.DecodeString(onePxPNGBase64)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	fw.Write(pngBytes)
	w.WriteField("context", context)
	w.Close()
	return buf, w.FormDataContentType()
}

func TestHandleUploadHappyPath(t *testing.T) {
	srv := newTestServer()
	body, contentType := buildUploadBody(t, "cat on mat")

	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp altifyapi.UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TaskID == "" {
		t.Fatalf("expected a task id")
	}

	task, ok, err := srv.store.GetTask(req.Context(), resp.TaskID)
	if err != nil || !ok {
		t.Fatalf("expected task row to exist, ok=%v err=%v", ok, err)
	}
	if task.Status != domain.StatusPending {
		t.Fatalf("expected PENDING status, got %s", task.Status)
	}
}

func TestHandleApproveRequiresDoneStatus(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	task := domain.Task{ID: "t1", ImageKey: "tasks/t1", ContextText: "ctx", Status: domain.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := srv.store.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	body, _ := json.Marshal(altifyapi.ApproveRequest{SelectedIndex: 1, FinalAlt: "a cat"})
	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/t1/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleApproveSucceedsWhenDone(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	alt1, alt2 := "A cat", "A kitten"
	task := domain.Task{
		ID: "t1", ImageKey: "tasks/t1", ContextText: "ctx", Status: domain.StatusDone,
		Alt1: &alt1, Alt2: &alt2, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := srv.store.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	body, _ := json.Marshal(altifyapi.ApproveRequest{SelectedIndex: 1, FinalAlt: "A cat."})
	req := httptest.NewRequest(http.MethodPatch, "/v1/tasks/t1/approve", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var view altifyapi.TaskView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.SelectedIndex == nil || *view.SelectedIndex != 1 || view.FinalAlt == nil || *view.FinalAlt != "A cat." {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestHandleFinalizeReportsPerItemOutcomes(t *testing.T) {
	srv := newTestServer()
	ctx := context.Background()
	alt1, alt2 := "A cat", "A kitten"
	done := domain.Task{
		ID: "done1", ImageKey: "tasks/done1", ContextText: "ctx", Status: domain.StatusDone,
		Alt1: &alt1, Alt2: &alt2, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	pending := domain.Task{ID: "pending1", ImageKey: "tasks/pending1", Status: domain.StatusPending, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := srv.store.InsertTask(ctx, done); err != nil {
		t.Fatalf("insert done task: %v", err)
	}
	if err := srv.store.InsertTask(ctx, pending); err != nil {
		t.Fatalf("insert pending task: %v", err)
	}

	items := []altifyapi.FinalizeItem{
		{TaskID: "done1", SelectedIndex: 2, FinalAlt: ""},
		{TaskID: "pending1", SelectedIndex: 1, FinalAlt: "whatever"},
		{TaskID: "missing", SelectedIndex: 1},
	}
	body, _ := json.Marshal(items)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/finalize", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp altifyapi.FinalizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}

	if resp.Results[0].Error != "" || resp.Results[0].Task == nil {
		t.Fatalf("expected done1 to succeed, got %+v", resp.Results[0])
	}
	if *resp.Results[0].Task.FinalAlt != alt2 {
		t.Fatalf("expected final_alt to fall back to alt2 when blank, got %q", *resp.Results[0].Task.FinalAlt)
	}
	if resp.Results[1].Error == "" {
		t.Fatalf("expected pending1 to fail the status=DONE precondition")
	}
	if resp.Results[2].Error == "" {
		t.Fatalf("expected missing task to report an error")
	}
}
