package harvest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// checkpointTTL bounds how old a checkpoint may be and still be resumed.
const checkpointTTL = 24 * time.Hour

// Checkpoint statuses.
const (
	CheckpointRunning   = "running"
	CheckpointCompleted = "completed"
	CheckpointFailed    = "failed"
)

// Checkpoint is the durable progress marker for one harvest. It is written
// wholesale on every update; only a recent checkpoint still in the running
// state is ever resumed.
type Checkpoint struct {
	LastPage        int    `json:"last_page"`
	TotalPages      int    `json:"total_pages"`
	ListingsFound   int    `json:"listings_found"`
	ListingsNew     int    `json:"listings_new"`
	ListingsUpdated int    `json:"listings_updated"`
	Timestamp       int64  `json:"timestamp"`
	Status          string `json:"status"`
}

// CheckpointManager saves and loads harvest checkpoints.
type CheckpointManager struct {
	path string
	now  func() time.Time
}

func NewCheckpointManager(path string) *CheckpointManager {
	return &CheckpointManager{path: path, now: time.Now}
}

// Save writes the checkpoint wholesale via a temp file and an atomic rename,
// so a crash mid-write can never leave a truncated checkpoint behind.
func (m *CheckpointManager) Save(cp *Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}

	slog.Debug("Checkpoint saved", "page", cp.LastPage, "total", cp.TotalPages)
	return nil
}

// Load returns a resumable checkpoint, or nil. Missing files, parse errors,
// stale timestamps and terminal statuses all fall back to a cold start
// rather than risking an incorrect resume.
func (m *CheckpointManager) Load() *Checkpoint {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Error("Failed to read checkpoint", "path", m.path, "error", err)
		}
		return nil
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		slog.Error("Failed to parse checkpoint, starting fresh", "path", m.path, "error", err)
		return nil
	}

	if m.now().Unix()-cp.Timestamp > int64(checkpointTTL.Seconds()) {
		slog.Warn("Checkpoint is older than 24 hours, starting fresh")
		return nil
	}

	if cp.Status != CheckpointRunning {
		slog.Info("Previous harvest finished, starting fresh", "status", cp.Status)
		return nil
	}

	slog.Info("Resuming from checkpoint", "page", cp.LastPage, "total", cp.TotalPages)
	return &cp
}

// Clear removes the checkpoint file.
func (m *CheckpointManager) Clear() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear checkpoint: %w", err)
	}
	return nil
}

func (m *CheckpointManager) CreateInitial(totalPages int) (*Checkpoint, error) {
	cp := &Checkpoint{
		TotalPages: totalPages,
		Timestamp:  m.now().Unix(),
		Status:     CheckpointRunning,
	}
	if err := m.Save(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Update advances the checkpoint monotonically and accumulates counters; the
// timestamp is refreshed on every write.
func (m *CheckpointManager) Update(cp *Checkpoint, page, found, new, updated int) {
	if page > cp.LastPage {
		cp.LastPage = page
	}
	cp.ListingsFound += found
	cp.ListingsNew += new
	cp.ListingsUpdated += updated
	cp.Timestamp = m.now().Unix()

	if err := m.Save(cp); err != nil {
		slog.Error("Failed to save checkpoint", "error", err)
	}
}

func (m *CheckpointManager) MarkCompleted(cp *Checkpoint) {
	cp.Status = CheckpointCompleted
	cp.Timestamp = m.now().Unix()
	if err := m.Save(cp); err != nil {
		slog.Error("Failed to save checkpoint", "error", err)
	}
}

func (m *CheckpointManager) MarkFailed(cp *Checkpoint) {
	cp.Status = CheckpointFailed
	cp.Timestamp = m.now().Unix()
	if err := m.Save(cp); err != nil {
		slog.Error("Failed to save checkpoint", "error", err)
	}
}
