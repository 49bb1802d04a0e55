package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creatorsuite/mediaflow/internal/config"
	"github.com/creatorsuite/mediaflow/internal/jobs"
	"github.com/creatorsuite/mediaflow/internal/media"
	"github.com/creatorsuite/mediaflow/internal/ops"
	"github.com/creatorsuite/mediaflow/internal/tasklog"
	"github.com/creatorsuite/mediaflow/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu    sync.Mutex
	fail  func(inputPath string) error
	calls []string
}

func (r *stubRunner) Run(_ context.Context, _ ops.Operation, inputPath string) ([]ops.Artifact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, inputPath)
	if r.fail != nil {
		if err := r.fail(inputPath); err != nil {
			return nil, err
		}
	}
	ext := filepath.Ext(inputPath)
	out := strings.TrimSuffix(inputPath, ext) + "_small" + ext
	return []ops.Artifact{{Path: out, Kind: media.KindImage}}, nil
}

type stubRemote struct {
	mu        sync.Mutex
	submitted int
}

func (s *stubRemote) Submit(context.Context, *jobs.SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted++
	return fmt.Sprintf("job-%d", s.submitted), nil
}

func (s *stubRemote) Status(_ context.Context, jobID string) (*jobs.Job, error) {
	return &jobs.Job{ID: jobID, Status: jobs.StatusRunning}, nil
}

func (s *stubRemote) AwaitCompletion(_ context.Context, jobID string) (*jobs.Result, error) {
	return &jobs.Result{Outputs: []jobs.Output{{
		Type:     "image",
		Path:     "/out/" + jobID + ".png",
		FileName: jobID + ".png",
	}}}, nil
}

type serverFixture struct {
	cfg     *config.Config
	engine  *workflow.Engine
	runner  *stubRunner
	remote  *stubRemote
	repo    *jobs.Repository
	tasks   *tasklog.Registry
	handler http.Handler
	dir     string
}

func newServerFixture(t *testing.T, backendURL string) *serverFixture {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:      dir,
		APIHost:      backendURL,
		PollInterval: 10 * time.Millisecond,
		JobTimeout:   time.Second,
	}
	require.NoError(t, cfg.EnsureWorkspace())

	store := workflow.NewStore(cfg.DefinitionsDir(), cfg.ExecutionsDir())
	repo := jobs.NewRepository(cfg.JobsDir())
	runner := &stubRunner{}
	remote := &stubRemote{}
	engine := workflow.NewEngine(cfg, store, runner, remote, repo)
	tasks := tasklog.NewRegistry(cfg.TasksDir())
	srv := NewServer(cfg, engine, jobs.NewClient(cfg, repo), tasks)

	return &serverFixture{
		cfg:     cfg,
		engine:  engine,
		runner:  runner,
		remote:  remote,
		repo:    repo,
		tasks:   tasks,
		handler: srv.Handler(),
		dir:     dir,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		reader = &bytes.Buffer{}
		require.NoError(t, json.NewEncoder(reader).Encode(body))
	}

	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decodeInto(t, rec, &body)
	return body["error"]
}

func (f *serverFixture) mediaFile(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(f.dir, "media")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0644))
	return path
}

func resizeDefinition(name string, steps int) *workflow.Definition {
	def := &workflow.Definition{Name: name}
	for i := 1; i <= steps; i++ {
		def.Steps = append(def.Steps, workflow.Step{
			Order: i,
			Kind:  workflow.StepKindLocal,
			Operation: &ops.Operation{
				Kind:   ops.KindImageResize,
				Resize: &ops.ResizeConfig{Mode: ops.ResizePercentage, Percentage: 50},
			},
		})
	}
	return def
}

func upscaleDefinition(name string) *workflow.Definition {
	return &workflow.Definition{
		Name: name,
		Steps: []workflow.Step{
			{
				Order:              1,
				Kind:               workflow.StepKindRemote,
				TargetDefinitionID: "upscale-v2",
				InputMapping: []workflow.InputBinding{{
					TargetParameterID: "image",
					TargetType:        workflow.TargetFile,
					SourceType:        workflow.SourceSelected,
				}},
				OutputMapping: []workflow.OutputBinding{{
					OutputKey:  "enhanced",
					OutputType: workflow.TargetFile,
				}},
			},
			{
				Order: 2,
				Kind:  workflow.StepKindLocal,
				Operation: &ops.Operation{
					Kind:   ops.KindImageResize,
					Resize: &ops.ResizeConfig{Mode: ops.ResizePercentage, Percentage: 50},
				},
				InputMapping: []workflow.InputBinding{{
					TargetParameterID: "image",
					TargetType:        workflow.TargetFile,
					SourceType:        workflow.SourcePreviousOutput,
					SourceStepOrder:   1,
					SourceKey:         "enhanced",
				}},
			},
		},
	}
}

func TestServer_Health(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")

	rec := fix.do(t, http.MethodGet, "/api/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	decodeInto(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_DefinitionCRUD(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")

	rec := fix.do(t, http.MethodPost, "/api/workflows", resizeDefinition("Shrink Photos", 1))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created workflow.Definition
	decodeInto(t, rec, &created)
	assert.Equal(t, "shrink-photos", created.ID)

	rec = fix.do(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []*workflow.Definition
	decodeInto(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, "Shrink Photos", listed[0].Name)

	rec = fix.do(t, http.MethodGet, "/api/workflows/shrink-photos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched workflow.Definition
	decodeInto(t, rec, &fetched)
	assert.Equal(t, created.ID, fetched.ID)

	// Saving with the id set is an update, not a creation
	created.Description = "halves every photo"
	rec = fix.do(t, http.MethodPost, "/api/workflows", &created)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = fix.do(t, http.MethodDelete, "/api/workflows/shrink-photos", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = fix.do(t, http.MethodGet, "/api/workflows/shrink-photos", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, errorMessage(t, rec))

	rec = fix.do(t, http.MethodDelete, "/api/workflows/shrink-photos", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_SaveDefinitionRejectsInvalid(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")

	rec := fix.do(t, http.MethodPost, "/api/workflows", &workflow.Definition{Name: "No Steps"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, errorMessage(t, rec))

	req := httptest.NewRequest(http.MethodPost, "/api/workflows", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	fix.handler.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusBadRequest, rec2.Code)
	assert.Contains(t, errorMessage(t, rec2), "invalid JSON body")
}

func TestServer_StartExecutionCompletesLocalPipeline(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))
	photo := fix.mediaFile(t, "photo.png")

	rec := fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "shrink-photos",
		FilePath:     photo,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp executionResponse
	decodeInto(t, rec, &resp)
	require.NotNil(t, resp.Execution)
	require.NotNil(t, resp.Dispatch)
	assert.Equal(t, workflow.ExecutionStatusCompleted, resp.Execution.Status)
	assert.Equal(t, workflow.StepStatusCompleted, resp.Dispatch.Status)
	require.Len(t, resp.Dispatch.Outputs, 1)
	assert.Equal(t, "output", resp.Dispatch.Outputs[0].Key)
	assert.Equal(t, []string{photo}, fix.runner.calls)

	rec = fix.do(t, http.MethodGet, "/api/executions/"+resp.Execution.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stored workflow.Execution
	decodeInto(t, rec, &stored)
	assert.Equal(t, workflow.ExecutionStatusCompleted, stored.Status)

	rec = fix.do(t, http.MethodGet, "/api/executions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []*workflow.Execution
	decodeInto(t, rec, &all)
	assert.Len(t, all, 1)
}

func TestServer_StartExecutionErrors(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))

	rec := fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{FilePath: "/tmp/x.png"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "no-such-definition",
		FilePath:     "/tmp/x.png",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "shrink-photos",
		FilePath:     filepath.Join(fix.dir, "missing.png"),
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "does not exist")
}

func TestServer_ContinueExecution(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Twice", 2)))
	photo := fix.mediaFile(t, "photo.png")

	rec := fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "shrink-twice",
		FilePath:     photo,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started executionResponse
	decodeInto(t, rec, &started)
	require.Equal(t, workflow.ExecutionStatusRunning, started.Execution.Status)
	require.Equal(t, 2, started.Execution.CurrentStepOrder)

	rec = fix.do(t, http.MethodPost, "/api/executions/"+started.Execution.ID+"/continue", continueExecutionRequest{StepOrder: 2})
	require.Equal(t, http.StatusOK, rec.Code)
	var continued executionResponse
	decodeInto(t, rec, &continued)
	assert.Equal(t, workflow.ExecutionStatusCompleted, continued.Execution.Status)

	// A finished execution cannot be continued again
	rec = fix.do(t, http.MethodPost, "/api/executions/"+started.Execution.ID+"/continue", continueExecutionRequest{StepOrder: 2})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestServer_ContinueExecutionConflicts(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Twice", 2)))
	require.NoError(t, fix.engine.Store().SaveDefinition(upscaleDefinition("Upscale Then Shrink")))
	photo := fix.mediaFile(t, "photo.png")

	rec := fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "shrink-twice",
		FilePath:     photo,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var local executionResponse
	decodeInto(t, rec, &local)

	rec = fix.do(t, http.MethodPost, "/api/executions/"+local.Execution.ID+"/continue", continueExecutionRequest{StepOrder: 9})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "expected 2")

	// Re-dispatching a step that already completed is a conflict
	_, err := fix.engine.Store().UpdateExecutionWith(local.Execution.ID, func(ex *workflow.Execution) error {
		ex.StepByOrder(2).Status = workflow.StepStatusCompleted
		return nil
	})
	require.NoError(t, err)
	rec = fix.do(t, http.MethodPost, "/api/executions/"+local.Execution.ID+"/continue", continueExecutionRequest{StepOrder: 2})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// An outstanding remote job blocks continuation until it settles
	rec = fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "upscale-then-shrink",
		FilePath:     photo,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var remote executionResponse
	decodeInto(t, rec, &remote)
	require.Equal(t, "job-1", remote.Dispatch.RemoteJobID)

	rec = fix.do(t, http.MethodPost, "/api/executions/"+remote.Execution.ID+"/continue", continueExecutionRequest{StepOrder: 2})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/executions/nonexistent/continue", continueExecutionRequest{StepOrder: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StopExecution(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(upscaleDefinition("Upscale Then Shrink")))
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))
	photo := fix.mediaFile(t, "photo.png")

	rec := fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "upscale-then-shrink",
		FilePath:     photo,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var started executionResponse
	decodeInto(t, rec, &started)

	rec = fix.do(t, http.MethodPost, "/api/executions/"+started.Execution.ID+"/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stopped workflow.Execution
	decodeInto(t, rec, &stopped)
	assert.Equal(t, workflow.ExecutionStatusPaused, stopped.Status)

	// The pause survives folding in the finished job record
	now := time.Now()
	require.NoError(t, fix.repo.Upsert(&jobs.Job{
		ID:        "job-1",
		Status:    jobs.StatusCompleted,
		CreatedAt: now,
		UpdatedAt: now,
		Results: &jobs.Result{Outputs: []jobs.Output{{
			Type:     "image",
			Path:     "/out/job-1.png",
			FileName: "job-1.png",
		}}},
	}))
	rec = fix.do(t, http.MethodGet, "/api/executions/"+started.Execution.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var folded workflow.Execution
	decodeInto(t, rec, &folded)
	assert.Equal(t, workflow.ExecutionStatusPaused, folded.Status)
	assert.Equal(t, workflow.StepStatusCompleted, folded.Steps[0].Status)
	assert.Equal(t, 2, folded.CurrentStepOrder)

	// Stopping a finished execution is a conflict
	rec = fix.do(t, http.MethodPost, "/api/executions", startExecutionRequest{
		DefinitionID: "shrink-photos",
		FilePath:     photo,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var done executionResponse
	decodeInto(t, rec, &done)
	rec = fix.do(t, http.MethodPost, "/api/executions/"+done.Execution.ID+"/stop", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/executions/nonexistent/stop", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunBatchOverFolder(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))
	folder := filepath.Join(fix.dir, "media")
	fix.mediaFile(t, "a.png")
	fix.mediaFile(t, "b.mp4")
	fix.mediaFile(t, "notes.txt")
	extra := filepath.Join(fix.dir, "extra.jpg")
	require.NoError(t, os.WriteFile(extra, []byte("media-bytes"), 0644))

	rec := fix.do(t, http.MethodPost, "/api/batch", batchRequest{
		DefinitionID: "shrink-photos",
		Files:        []string{extra},
		Folder:       folder,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	decodeInto(t, rec, &accepted)
	taskID := accepted["taskId"]
	require.NotEmpty(t, taskID)

	var snap tasklog.Snapshot
	require.Eventually(t, func() bool {
		rec := fix.do(t, http.MethodGet, "/api/tasks/"+taskID, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Status == tasklog.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	// extra.jpg plus a.png and b.mp4 from the folder; notes.txt is not media
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 3, snap.Succeeded)
	assert.Equal(t, 0, snap.Failed)
	assert.Contains(t, snap.Lines, "Processing a.png")
}

func TestServer_RunBatchReportsFileFailures(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))
	fix.mediaFile(t, "good.png")
	fix.mediaFile(t, "broken.png")
	fix.runner.fail = func(inputPath string) error {
		if filepath.Base(inputPath) == "broken.png" {
			return fmt.Errorf("corrupt input")
		}
		return nil
	}

	rec := fix.do(t, http.MethodPost, "/api/batch", batchRequest{
		DefinitionID: "shrink-photos",
		Folder:       filepath.Join(fix.dir, "media"),
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted map[string]string
	decodeInto(t, rec, &accepted)

	// One bad file does not fail the task, it is counted and the batch goes on
	var snap tasklog.Snapshot
	require.Eventually(t, func() bool {
		task, ok := fix.tasks.Get(accepted["taskId"])
		if !ok {
			return false
		}
		snap = task.Snapshot()
		return snap.Status == tasklog.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)
	assert.Contains(t, snap.Lines, "Failed broken.png: corrupt input")
}

func TestServer_RunBatchValidation(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	require.NoError(t, fix.engine.Store().SaveDefinition(resizeDefinition("Shrink Photos", 1)))

	rec := fix.do(t, http.MethodPost, "/api/batch", batchRequest{Folder: fix.dir})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/batch", batchRequest{DefinitionID: "ghost", Folder: fix.dir})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/batch", batchRequest{
		DefinitionID: "shrink-photos",
		Folder:       filepath.Join(fix.dir, "nope"),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "not readable")

	// An existing folder with no media files leaves nothing to process
	empty := filepath.Join(fix.dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0755))
	rec = fix.do(t, http.MethodPost, "/api/batch", batchRequest{DefinitionID: "shrink-photos", Folder: empty})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "no input files")
}

func TestServer_TaskLifecycle(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	task, err := fix.tasks.Start("manual batch", 3)
	require.NoError(t, err)

	rec := fix.do(t, http.MethodPost, "/api/tasks/"+task.ID()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap tasklog.Snapshot
	decodeInto(t, rec, &snap)
	assert.Equal(t, tasklog.StatusRunning, snap.Status)
	assert.Contains(t, snap.Lines, "Cancellation requested")
	assert.True(t, task.Cancelled())

	task.Finish(nil)
	rec = fix.do(t, http.MethodGet, "/api/tasks/"+task.ID(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeInto(t, rec, &snap)
	assert.Equal(t, tasklog.StatusCancelled, snap.Status)
	assert.Equal(t, 3, snap.Skipped)

	rec = fix.do(t, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = fix.do(t, http.MethodPost, "/api/tasks/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetJobProxiesBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/api/jobs/job-42" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(&jobs.Job{
				ID:           "job-42",
				DefinitionID: "upscale-v2",
				Status:       jobs.StatusCompleted,
				Results: &jobs.Result{Outputs: []jobs.Output{{
					Type:     "image",
					Path:     "/out/result.png",
					FileName: "result.png",
				}}},
			})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer backend.Close()
	fix := newServerFixture(t, backend.URL)

	rec := fix.do(t, http.MethodGet, "/api/jobs/job-42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	decodeInto(t, rec, &job)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	require.NotNil(t, job.Results)

	// The poll is mirrored into the local repository
	stored, err := fix.repo.Get("job-42")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, stored.Status)
}

func TestServer_GetJobFallsBackToLocalRecord(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	url := backend.URL
	backend.Close()
	fix := newServerFixture(t, url)

	now := time.Now()
	require.NoError(t, fix.repo.Upsert(&jobs.Job{
		ID:        "job-7",
		Status:    jobs.StatusFailed,
		Error:     "model crashed",
		CreatedAt: now,
		UpdatedAt: now,
	}))

	rec := fix.do(t, http.MethodGet, "/api/jobs/job-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var job jobs.Job
	decodeInto(t, rec, &job)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, "model crashed", job.Error)

	rec = fix.do(t, http.MethodGet, "/api/jobs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RenameMedia(t *testing.T) {
	fix := newServerFixture(t, "http://backend.invalid")
	path := fix.mediaFile(t, "draft.png")

	rec := fix.do(t, http.MethodPost, "/api/media/rename", renameRequest{Path: path, NewName: "final"})
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decodeInto(t, rec, &body)
	renamed := filepath.Join(filepath.Dir(path), "final.png")
	assert.Equal(t, renamed, body["path"])
	_, err := os.Stat(renamed)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	rec = fix.do(t, http.MethodPost, "/api/media/rename", renameRequest{Path: path, NewName: "again"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	fix.mediaFile(t, "clash.png")
	rec = fix.do(t, http.MethodPost, "/api/media/rename", renameRequest{Path: renamed, NewName: "clash"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/media/rename", renameRequest{Path: renamed, NewName: "../escape"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = fix.do(t, http.MethodPost, "/api/media/rename", renameRequest{Path: renamed, NewName: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
