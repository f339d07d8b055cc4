package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/altify/altify/internal/domain"
	"github.com/altify/altify/internal/validate"
	"github.com/altify/altify/pkg/altifyapi"
)

const maxUploadBody = validate.MaxImageBytes + 64*1024 // body envelope beyond raw image bytes

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

// handleUpload implements Upload(image_bytes, context) → task_id. The image
// is multipart field "image" and context is multipart field "context",
// matching how a browser file-upload form posts to Ingress.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	principal, status, msg := s.auth.Authorize(r, "submit")
	if status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	if !s.limiter.Allow(principal.ID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "submit rate limit exceeded")
		return
	}

	imageBytes, contentType, contextText, err := parseUploadBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
		return
	}

	id, err := s.acceptOne(r.Context(), imageBytes, contentType, contextText)
	if err != nil {
		writeStageError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, altifyapi.UploadResponse{TaskID: id})
}

// handleBulkUpload implements BulkUpload's ordered request shape:
// [(image_bytes, context)], parsed into bulkItem values. It arrives as
// multipart with repeated "image" and "context" fields, paired by position.
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	principal, status, msg := s.auth.Authorize(r, "submit")
	if status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	if !s.limiter.Allow(principal.ID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "rate_limited", "submit rate limit exceeded")
		return
	}

	items, err := parseBulkUploadBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
		return
	}

	// BulkUpload processes items sequentially; on item i failure, prior
	// successes are retained and the response reports per-item outcomes
	// (spec §4.1).
	results := make([]altifyapi.BulkUploadItemResult, 0, len(items))
	for i, item := range items {
		id, err := s.acceptOne(r.Context(), item.imageBytes, item.contentType, item.context)
		if err != nil {
			results = append(results, altifyapi.BulkUploadItemResult{Index: i, Error: err.Error()})
			continue
		}
		results = append(results, altifyapi.BulkUploadItemResult{Index: i, TaskID: id})
	}
	writeJSON(w, http.StatusOK, altifyapi.BulkUploadResponse{Tasks: results})
}

func (s *Server) acceptOne(ctx context.Context, imageBytes []byte, contentType, contextText string) (string, error) {
	v, err := s.valid.Validate(validate.UploadInput{ImageBytes: imageBytes, ContentType: contentType, Context: stripHTML(contextText)})
	if err != nil {
		return "", err
	}
	return s.stageOne(ctx, imageBytes, contentType, v.Context)
}

func writeStageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBadInput):
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (s *Server) handleTaskSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, "not_found", "task id required")
		return
	}
	if len(parts) == 2 && parts[1] == "approve" {
		s.handleApprove(w, r, id)
		return
	}
	if len(parts) == 1 {
		s.handleGetTask(w, r, id)
		return
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown task subresource")
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, status, msg := s.auth.Authorize(r, "read", "submit"); status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	task, ok, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, taskToView(task))
}

// handleApprove implements Approve(id, selected_index, final_alt); requires
// status=DONE and fails with PreconditionFailed otherwise (spec §4.1).
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, status, msg := s.auth.Authorize(r, "approve", "submit"); status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	var req altifyapi.ApproveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
		return
	}
	if req.SelectedIndex != 1 && req.SelectedIndex != 2 {
		writeError(w, http.StatusBadRequest, "bad_input", "selected_alt_index must be 1 or 2")
		return
	}
	finalAlt := strings.TrimSpace(req.FinalAlt)
	if finalAlt == "" {
		writeError(w, http.StatusBadRequest, "bad_input", "final_alt must be non-empty")
		return
	}

	task, ok, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "task not found")
		return
	}
	if task.Status != domain.StatusDone {
		writeError(w, http.StatusPreconditionFailed, "precondition_failed", "task is not DONE")
		return
	}

	task.SelectedIndex = domain.IntPtr(req.SelectedIndex)
	task.FinalAlt = domain.StrPtr(finalAlt)
	task.IsApproved = true
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(r.Context(), task); err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, taskToView(task))
}

// handleFinalize implements the batched-approval endpoint POST
// /v1/tasks/finalize (spec §6): per item, the same status=DONE precondition
// as handleApprove, reporting per-item outcomes the way handleBulkUpload
// does rather than an all-or-nothing transaction.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, status, msg := s.auth.Authorize(r, "approve", "submit"); status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	var items []altifyapi.FinalizeItem
	if err := decodeJSON(r, &items); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
		return
	}
	if len(items) == 0 {
		writeError(w, http.StatusBadRequest, "bad_input", "at least one item is required")
		return
	}

	results := make([]altifyapi.FinalizeItemResult, 0, len(items))
	for _, item := range items {
		view, err := s.finalizeOne(r.Context(), item)
		if err != nil {
			results = append(results, altifyapi.FinalizeItemResult{TaskID: item.TaskID, Error: err.Error()})
			continue
		}
		results = append(results, altifyapi.FinalizeItemResult{TaskID: item.TaskID, Task: &view})
	}
	writeJSON(w, http.StatusOK, altifyapi.FinalizeResponse{Results: results})
}

// finalizeOne applies one finalize item: selected_alt_index must be 1 or 2,
// the task must be status=DONE, and the chosen alt candidate must exist;
// final_alt falls back to the selected candidate when blank, matching
// original_source's finalize_tasks route.
func (s *Server) finalizeOne(ctx context.Context, item altifyapi.FinalizeItem) (altifyapi.TaskView, error) {
	if item.SelectedIndex != 1 && item.SelectedIndex != 2 {
		return altifyapi.TaskView{}, errors.New("selected_alt_index must be 1 or 2")
	}
	task, ok, err := s.store.GetTask(ctx, item.TaskID)
	if err != nil {
		return altifyapi.TaskView{}, err
	}
	if !ok {
		return altifyapi.TaskView{}, domain.ErrNotFound
	}
	if task.Status != domain.StatusDone {
		return altifyapi.TaskView{}, domain.ErrPreconditionFailed
	}
	selected := task.Alt1
	if item.SelectedIndex == 2 {
		selected = task.Alt2
	}
	if selected == nil || *selected == "" {
		return altifyapi.TaskView{}, fmt.Errorf("alt%d text is not available", item.SelectedIndex)
	}
	finalAlt := strings.TrimSpace(item.FinalAlt)
	if finalAlt == "" {
		finalAlt = *selected
	}

	task.SelectedIndex = domain.IntPtr(item.SelectedIndex)
	task.FinalAlt = domain.StrPtr(finalAlt)
	task.IsApproved = true
	task.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return altifyapi.TaskView{}, err
	}
	return taskToView(task), nil
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, status, msg := s.auth.Authorize(r, "operator"); status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	dead, err := s.broker.ListDeadLetters(r.Context(), queueMain, limit)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}
	out := make([]altifyapi.DeadLetterView, 0, len(dead))
	for _, d := range dead {
		out = append(out, altifyapi.DeadLetterView{ID: d.ID, LastErr: d.LastErr, Attempts: d.Attempts})
	}
	writeJSON(w, http.StatusOK, altifyapi.ListDeadLettersResponse{DeadLetters: out})
}

func (s *Server) handleRequeueDeadLetters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if _, status, msg := s.auth.Authorize(r, "operator"); status != http.StatusOK {
		writeError(w, status, "unauthorized", msg)
		return
	}
	var req altifyapi.RequeueDeadLettersRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_input", err.Error())
		return
	}
	allowed, reason := s.safety.CheckBatch(time.Now(), len(req.IDs), req.ConfirmToken)
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "admin_guard_rejected", reason)
		return
	}
	requeued := 0
	for _, id := range req.IDs {
		if err := s.broker.RequeueDeadLetter(r.Context(), queueMain, id, 0); err != nil {
			s.log.Warn().Err(err).Str("task_id", id).Msg("admin requeue failed")
			continue
		}
		requeued++
	}
	writeJSON(w, http.StatusOK, altifyapi.RequeueDeadLettersResponse{Requested: len(req.IDs), Requeued: requeued})
}

func taskToView(t domain.Task) altifyapi.TaskView {
	return altifyapi.TaskView{
		ID:            t.ID,
		Status:        string(t.Status),
		ContextText:   t.ContextText,
		Alt1:          t.Alt1,
		Alt2:          t.Alt2,
		SelectedIndex: t.SelectedIndex,
		FinalAlt:      t.FinalAlt,
		IsApproved:    t.IsApproved,
		Attempts:      t.Attempts,
		LastError:     t.LastError,
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}
