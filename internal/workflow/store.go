package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/creatorsuite/mediaflow/internal/utils"
	"github.com/gofrs/flock"
)

// ErrNotFound is returned when a definition or execution does not exist
var ErrNotFound = errors.New("not found")

// Store persists definitions and executions as one JSON file per entity.
// Execution records are written whole; partial field updates do not exist.
type Store struct {
	definitionsDir string
	executionsDir  string
}

// NewStore creates a store over the given directories
func NewStore(definitionsDir, executionsDir string) *Store {
	return &Store{
		definitionsDir: definitionsDir,
		executionsDir:  executionsDir,
	}
}

// Definitions

// SaveDefinition validates and writes a definition. A definition without an
// id gets one derived from its name, made unique with a numeric suffix.
// Saving an existing id overwrites it and refreshes updatedAt.
func (s *Store) SaveDefinition(def *Definition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}

	now := time.Now()
	if def.ID == "" {
		def.ID = s.uniqueDefinitionID(normalizeDefinitionID(def.Name))
		def.CreatedAt = now
	} else {
		if !safeID(def.ID) {
			return &utils.ValidationError{Field: "id", Message: fmt.Sprintf("invalid definition id %q", def.ID)}
		}
		if def.CreatedAt.IsZero() {
			def.CreatedAt = now
		}
	}
	def.UpdatedAt = now

	if err := os.MkdirAll(s.definitionsDir, 0755); err != nil {
		return fmt.Errorf("failed to create definitions directory: %w", err)
	}
	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode definition %s: %w", def.ID, err)
	}
	return utils.WriteFileAtomic(s.definitionPath(def.ID), data, 0644)
}

// GetDefinition loads one definition by id
func (s *Store) GetDefinition(id string) (*Definition, error) {
	if !safeID(id) {
		return nil, fmt.Errorf("definition %q: %w", id, ErrNotFound)
	}
	data, err := os.ReadFile(s.definitionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("definition %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read definition %q: %w", id, err)
	}
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse definition %q: %w", id, err)
	}
	return &def, nil
}

// ListDefinitions returns all stored definitions sorted by name
func (s *Store) ListDefinitions() ([]*Definition, error) {
	paths, err := filepath.Glob(filepath.Join(s.definitionsDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}

	defs := make([]*Definition, 0, len(paths))
	for _, path := range paths {
		id := strings.TrimSuffix(filepath.Base(path), ".json")
		def, err := s.GetDefinition(id)
		if err != nil {
			utils.LogWarning("Skipping unreadable definition %s: %v", id, err)
			continue
		}
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].ID < defs[j].ID
	})
	return defs, nil
}

// DeleteDefinition removes a stored definition
func (s *Store) DeleteDefinition(id string) error {
	if !safeID(id) {
		return fmt.Errorf("definition %q: %w", id, ErrNotFound)
	}
	path := s.definitionPath(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("definition %q: %w", id, ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to delete definition %q: %w", id, err)
	}
	return nil
}

// Executions

// CreateExecution writes a fresh execution record
func (s *Store) CreateExecution(exec *Execution) error {
	if err := os.MkdirAll(s.executionDir(exec.ID), 0755); err != nil {
		return fmt.Errorf("failed to create execution directory: %w", err)
	}
	return s.writeExecution(exec)
}

// GetExecution loads one execution by id under a shared lock
func (s *Store) GetExecution(id string) (*Execution, error) {
	if !safeID(id) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if _, err := os.Stat(s.executionPath(id)); os.IsNotExist(err) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}

	lock := flock.New(s.executionLockPath(id))
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock execution %q: %w", id, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	return s.readExecution(id)
}

// ListExecutions returns all stored executions, newest first
func (s *Store) ListExecutions() ([]*Execution, error) {
	entries, err := os.ReadDir(s.executionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	execs := make([]*Execution, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exec, err := s.readExecution(entry.Name())
		if err != nil {
			utils.LogWarning("Skipping unreadable execution %s: %v", entry.Name(), err)
			continue
		}
		execs = append(execs, exec)
	}

	sort.Slice(execs, func(i, j int) bool {
		return execs[i].CreatedAt.After(execs[j].CreatedAt)
	})
	return execs, nil
}

// UpdateExecution persists the whole execution record under an exclusive
// lock, refreshing updatedAt
func (s *Store) UpdateExecution(exec *Execution) error {
	lock := flock.New(s.executionLockPath(exec.ID))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock execution %q: %w", exec.ID, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	exec.UpdatedAt = time.Now()
	return s.writeExecution(exec)
}

// UpdateExecutionWith reloads the execution, applies the mutation, and
// persists the result, all under one exclusive lock. The mutation returning
// an error leaves the record untouched.
func (s *Store) UpdateExecutionWith(id string, mutate func(*Execution) error) (*Execution, error) {
	if !safeID(id) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if _, err := os.Stat(s.executionPath(id)); os.IsNotExist(err) {
		return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}

	lock := flock.New(s.executionLockPath(id))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock execution %q: %w", id, err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	exec, err := s.readExecution(id)
	if err != nil {
		return nil, err
	}
	if err := mutate(exec); err != nil {
		return nil, err
	}
	exec.UpdatedAt = time.Now()
	if err := s.writeExecution(exec); err != nil {
		return nil, err
	}
	return exec, nil
}

// DeleteExecution removes an execution record and its directory
func (s *Store) DeleteExecution(id string) error {
	if !safeID(id) {
		return fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	dir := s.executionDir(id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to delete execution %q: %w", id, err)
	}
	return nil
}

func (s *Store) definitionPath(id string) string {
	return filepath.Join(s.definitionsDir, id+".json")
}

func (s *Store) executionDir(id string) string {
	return filepath.Join(s.executionsDir, id)
}

func (s *Store) executionPath(id string) string {
	return filepath.Join(s.executionDir(id), "execution.json")
}

func (s *Store) executionLockPath(id string) string {
	return filepath.Join(s.executionDir(id), ".lock")
}

func (s *Store) readExecution(id string) (*Execution, error) {
	data, err := os.ReadFile(s.executionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("execution %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read execution %q: %w", id, err)
	}
	var exec Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("failed to parse execution %q: %w", id, err)
	}
	return &exec, nil
}

func (s *Store) writeExecution(exec *Execution) error {
	data, err := json.MarshalIndent(exec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode execution %q: %w", exec.ID, err)
	}
	return utils.WriteFileAtomic(s.executionPath(exec.ID), data, 0644)
}

// uniqueDefinitionID appends a numeric suffix until the id does not collide
// with a stored definition
func (s *Store) uniqueDefinitionID(base string) string {
	id := base
	for i := 2; ; i++ {
		if _, err := os.Stat(s.definitionPath(id)); os.IsNotExist(err) {
			return id
		}
		id = fmt.Sprintf("%s-%d", base, i)
	}
}

// normalizeDefinitionID lowercases a name, turns spaces into hyphens and
// drops every rune that is not a letter, digit, hyphen or underscore
func normalizeDefinitionID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteRune('-')
		}
	}
	id := strings.Trim(b.String(), "-")
	if id == "" {
		id = "workflow"
	}
	return id
}

// safeID rejects ids that could escape the store directory
func safeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
