package tangram

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// StateTracker holds the latest engine output for the HTTP endpoints and the
// publisher. The engine itself is single-threaded; the tracker is the one
// place its results cross goroutine boundaries.
type StateTracker struct {
	mu        sync.RWMutex
	result    *ValidationResult
	frame     *Frame
	puzzle    *GamePuzzleData
	cachePath string // path to .validation-result.json cache; empty disables persistence
}

// NewStateTracker creates a state tracker for one puzzle.
func NewStateTracker(puzzle *GamePuzzleData) *StateTracker {
	return &StateTracker{puzzle: puzzle}
}

// NewStateTrackerWithCache creates a state tracker that persists the latest
// validation result to the given cache file. If the file exists, the cached
// result is loaded on creation so progress survives a restart.
func NewStateTrackerWithCache(puzzle *GamePuzzleData, cachePath string) *StateTracker {
	st := &StateTracker{puzzle: puzzle, cachePath: cachePath}
	if cachePath != "" {
		if r, err := LoadValidationResult(cachePath); err == nil {
			st.result = r
		}
	}
	return st
}

// UpdateResult stores the latest validation result and persists it when a
// cache path is configured.
func (st *StateTracker) UpdateResult(r *ValidationResult) {
	st.mu.Lock()
	st.result = r
	cachePath := st.cachePath
	st.mu.Unlock()

	if cachePath != "" && r != nil {
		if err := SaveValidationResult(r, cachePath); err != nil {
			log.Printf("warning: failed to save validation result cache: %v", err)
		}
	}
}

// UpdateFrame stores the most recent processed frame.
func (st *StateTracker) UpdateFrame(f Frame) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.frame = &f
}

// GetResult returns the latest validation result, or nil before the first
// frame.
func (st *StateTracker) GetResult() *ValidationResult {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// GetFrame returns a copy of the most recent frame, or nil.
func (st *StateTracker) GetFrame() *Frame {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.frame == nil {
		return nil
	}
	f := Frame{
		Observations: make([]PieceObservation, len(st.frame.Observations)),
		Timestamp:    st.frame.Timestamp,
	}
	copy(f.Observations, st.frame.Observations)
	if st.frame.Groups != nil {
		f.Groups = make(map[string][]string, len(st.frame.Groups))
		for k, v := range st.frame.Groups {
			members := make([]string, len(v))
			copy(members, v)
			f.Groups[k] = members
		}
	}
	return &f
}

// GetPuzzle returns the puzzle definition the tracker was created with.
func (st *StateTracker) GetPuzzle() *GamePuzzleData {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.puzzle
}

// HasResult reports whether at least one frame has been validated.
func (st *StateTracker) HasResult() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result != nil
}

// Progress returns validated target count and total target count.
func (st *StateTracker) Progress() (validated, total int) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.puzzle != nil {
		total = len(st.puzzle.Targets)
	}
	if st.result != nil {
		for _, ok := range st.result.ValidatedTargets {
			if ok {
				validated++
			}
		}
	}
	return validated, total
}

// SaveValidationResult writes a ValidationResult to disk as JSON.
func SaveValidationResult(r *ValidationResult, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal validation result: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write validation result cache: %w", err)
	}
	return nil
}

// LoadValidationResult reads a ValidationResult from a JSON file on disk.
func LoadValidationResult(path string) (*ValidationResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read validation result cache: %w", err)
	}
	var r ValidationResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal validation result cache: %w", err)
	}
	return &r, nil
}
