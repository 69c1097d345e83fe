package evaluation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

// History is the append-only accuracy log. Rows are never deduplicated; a
// round that is recorded twice appears twice.
type History struct {
	mu   sync.Mutex
	path string
}

func NewHistory(path string) *History {
	if path == "" {
		path = common.DEFAULT_HISTORY_FILE
	}
	return &History{path: path}
}

func (h *History) Path() string {
	return h.path
}

// Append adds one row, writing the header first if the file is new or empty.
func (h *History) Append(round int, accuracy float64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := common.EnsureParentDir(h.path); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	file, err := os.OpenFile(h.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		writer.Write([]string{common.HISTORY_ROUND_COLUMN, common.HISTORY_ACCURACY_COLUMN})
	}
	writer.Write([]string{strconv.Itoa(round), strconv.FormatFloat(accuracy, 'f', 2, 64)})
	writer.Flush()

	if err := writer.Error(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}

// Entries reads the log back in append order. A missing file has no entries.
func (h *History) Entries() ([]model.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	file, err := os.Open(h.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	entries := make([]model.HistoryEntry, 0, len(records))
	for i, record := range records {
		if i == 0 && len(record) > 0 && record[0] == common.HISTORY_ROUND_COLUMN {
			continue
		}
		if len(record) != 2 {
			return nil, fmt.Errorf("history: line %d has %d fields", i+1, len(record))
		}
		round, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", i+1, err)
		}
		accuracy, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("history: line %d: %w", i+1, err)
		}
		entries = append(entries, model.HistoryEntry{Round: round, Accuracy: accuracy})
	}

	return entries, nil
}
