package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// ChangeSet is the change-notification artifact the panel editor writes
// after mutating the ledger. Row edits are keyed by the row's ordinal
// position in ReadAll order and carry only the fields that changed; added
// rows are carried whole. The changes are assumed to already be applied to
// the ledger itself.
type ChangeSet struct {
	ChangeID    string                    `json:"change_id,omitempty"`
	EditedRows  map[string]map[string]any `json:"edited_rows"`
	AddedRows   []OrderSnapshot           `json:"added_rows"`
	DeletedRows []int                     `json:"deleted_rows,omitempty"`
}

// WriteChangeSet writes cs to path atomically (temp file then rename), so a
// concurrent reader never observes a half-written artifact.
func WriteChangeSet(path string, cs *ChangeSet) error {
	data, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal change set: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write change file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename change file: %w", err)
	}
	return nil
}

// ChangeWatcher detects new change-notification artifacts by comparing the
// file's modification time against the last one seen. Edits are human-paced,
// so last-writer-wins staleness detection is sufficient; no locking.
type ChangeWatcher struct {
	path     string
	logger   *zap.Logger
	lastSeen time.Time
}

// NewChangeWatcher watches path. Artifacts older than construction time are
// ignored: they predate this process.
func NewChangeWatcher(path string, logger *zap.Logger) *ChangeWatcher {
	return &ChangeWatcher{
		path:     path,
		logger:   logger,
		lastSeen: time.Now(),
	}
}

// Poll returns the change set when the artifact has been rewritten since the
// last poll, and (nil, nil) when it is absent or unchanged.
func (w *ChangeWatcher) Poll() (*ChangeSet, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat change file: %w", err)
	}

	modTime := info.ModTime()
	if !modTime.After(w.lastSeen) {
		return nil, nil
	}
	w.lastSeen = modTime

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read change file: %w", err)
	}

	var cs ChangeSet
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("failed to parse change file: %w", err)
	}

	w.logger.Info("detected order changes",
		zap.String("change_id", cs.ChangeID),
		zap.Int("edited", len(cs.EditedRows)),
		zap.Int("added", len(cs.AddedRows)),
	)
	return &cs, nil
}
