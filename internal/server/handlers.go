package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/creatorsuite/mediaflow/internal/workflow"
	"github.com/go-chi/chi/v5"
)

type startExecutionRequest struct {
	DefinitionID string                   `json:"definitionId"`
	FilePath     string                   `json:"filePath"`
	Inputs       *workflow.InputOverrides `json:"inputs,omitempty"`
}

type continueExecutionRequest struct {
	StepOrder int                      `json:"stepOrder"`
	Inputs    *workflow.InputOverrides `json:"inputs,omitempty"`
}

type batchRequest struct {
	DefinitionID string   `json:"definitionId"`
	Files        []string `json:"files,omitempty"`
	Folder       string   `json:"folder,omitempty"`
}

type renameRequest struct {
	Path    string `json:"path"`
	NewName string `json:"newName"`
}

// executionResponse pairs an execution with what its dispatch did, so the
// caller of start/continue sees the submitted job id without a second fetch
type executionResponse struct {
	Execution *workflow.Execution      `json:"execution"`
	Dispatch  *workflow.DispatchResult `json:"dispatch,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDefinitions(w http.ResponseWriter, _ *http.Request) {
	defs, err := s.engine.Store().ListDefinitions()
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

func (s *Server) handleSaveDefinition(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := decodeJSON(r, &def); err != nil {
		respondError(w, err)
		return
	}

	created := def.ID == ""
	if err := s.engine.Store().SaveDefinition(&def); err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, &def)
}

func (s *Server) handleGetDefinition(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.Store().GetDefinition(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (s *Server) handleDeleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Store().DeleteDefinition(chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartExecution(w http.ResponseWriter, r *http.Request) {
	var req startExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.DefinitionID == "" {
		respondError(w, &utils.ValidationError{Field: "definitionId", Message: "definition id is required"})
		return
	}

	exec, dispatch, err := s.engine.StartExecution(r.Context(), req.DefinitionID, req.FilePath, req.Inputs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, executionResponse{Execution: exec, Dispatch: dispatch})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, _ *http.Request) {
	execs, err := s.engine.Store().ListExecutions()
	if err != nil {
		respondError(w, err)
		return
	}
	if execs == nil {
		execs = []*workflow.Execution{}
	}
	writeJSON(w, http.StatusOK, execs)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleContinueExecution(w http.ResponseWriter, r *http.Request) {
	var req continueExecutionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}

	exec, dispatch, err := s.engine.ContinueExecution(r.Context(), chi.URLParam(r, "id"), req.StepOrder, req.Inputs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executionResponse{Execution: exec, Dispatch: dispatch})
}

func (s *Server) handleStopExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.engine.StopExecution(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// handleRunBatch validates the request synchronously, then runs the batch in
// the background and returns the task id for progress polling
func (s *Server) handleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.DefinitionID == "" {
		respondError(w, &utils.ValidationError{Field: "definitionId", Message: "definition id is required"})
		return
	}

	def, err := s.engine.Store().GetDefinition(req.DefinitionID)
	if err != nil {
		respondError(w, err)
		return
	}

	files := append([]string(nil), req.Files...)
	if req.Folder != "" {
		expanded, err := media.ListFiles(req.Folder)
		if err != nil {
			respondError(w, &utils.ValidationError{Field: "folder", Message: "folder is not readable", Err: err})
			return
		}
		files = append(files, expanded...)
	}
	if len(files) == 0 {
		respondError(w, &utils.ValidationError{Field: "files", Message: "no input files"})
		return
	}

	task, err := s.tasks.Start(def.Name, len(files))
	if err != nil {
		respondError(w, err)
		return
	}

	go func() {
		_, err := s.engine.RunBatch(context.Background(), def.ID, files, task)
		task.Finish(err)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": task.ID()})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, task.Snapshot())
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	task, ok := s.tasks.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	task.Cancel()
	writeJSON(w, http.StatusOK, task.Snapshot())
}

// handleGetJob proxies one poll of the backend job resource. The poll is
// mirrored into the job repository, so a later getExecution folds it in even
// offline; when the backend is unreachable the local record is served.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.client.Status(r.Context(), jobID)
	if err != nil {
		utils.LogWarning("Backend unreachable for job %s, serving local record: %v", jobID, err)
		job, err = s.client.Repo().Get(jobID)
		if err != nil {
			respondError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRenameMedia(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Path == "" || req.NewName == "" {
		respondError(w, &utils.ValidationError{Field: "newName", Message: "path and newName are required"})
		return
	}
	if strings.ContainsAny(req.NewName, `/\`) {
		respondError(w, &utils.ValidationError{Field: "newName", Message: "new name must not contain path separators"})
		return
	}

	if _, err := os.Stat(req.Path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		respondError(w, err)
		return
	}

	newName := req.NewName
	if filepath.Ext(newName) == "" {
		newName += filepath.Ext(req.Path)
	}
	newPath := filepath.Join(filepath.Dir(req.Path), newName)
	if newPath == req.Path {
		writeJSON(w, http.StatusOK, map[string]string{"path": newPath})
		return
	}
	if _, err := os.Stat(newPath); err == nil {
		writeError(w, http.StatusConflict, "a file with that name already exists")
		return
	}

	if err := os.Rename(req.Path, newPath); err != nil {
		respondError(w, err)
		return
	}
	utils.LogInfo("Renamed %s to %s", req.Path, newPath)
	writeJSON(w, http.StatusOK, map[string]string{"path": newPath})
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &utils.ValidationError{Field: "body", Message: "invalid JSON body", Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func respondError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps the error taxonomy to HTTP status codes: validation
// failures are 400, unknown entities 404, state conflicts 409, the rest 500
func statusFor(err error) int {
	var verr *utils.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrStepStillRunning),
		errors.Is(err, workflow.ErrStepAlreadyCompleted),
		errors.Is(err, workflow.ErrExecutionFinished):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
