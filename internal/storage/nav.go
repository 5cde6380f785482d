package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"eom_fund/internal/models"
)

// NavStore persists the NAV history as a JSON array, one sample per date.
type NavStore struct {
	Path string
}

func NewNavStore(path string) *NavStore {
	return &NavStore{Path: path}
}

// Load returns the history sorted by date. A missing file is an empty history.
func (n *NavStore) Load() ([]models.NavSample, error) {
	b, err := os.ReadFile(n.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read nav history %s: %w", n.Path, err)
	}
	var history []models.NavSample
	if err := json.Unmarshal(b, &history); err != nil {
		return nil, fmt.Errorf("storage: nav history %s: %w: %v", n.Path, ErrCorruptState, err)
	}
	return UpsertSample(nil, history...), nil
}

// Upsert stores sample, replacing any sample already recorded for its date.
func (n *NavStore) Upsert(sample models.NavSample) ([]models.NavSample, error) {
	history, err := n.Load()
	if err != nil {
		return nil, err
	}
	history = UpsertSample(history, sample)
	return history, n.Save(history)
}

// Save writes history atomically.
func (n *NavStore) Save(history []models.NavSample) error {
	if history == nil {
		history = []models.NavSample{}
	}
	b, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal nav history: %w", err)
	}
	return WriteFileAtomic(n.Path, append(b, '\n'))
}

// UpsertSample merges samples into history: later samples win for equal dates,
// and the result is sorted ascending by date.
func UpsertSample(history []models.NavSample, samples ...models.NavSample) []models.NavSample {
	byDate := make(map[models.Date]int, len(history)+len(samples))
	out := make([]models.NavSample, 0, len(history)+len(samples))
	for _, s := range slices.Concat(history, samples) {
		if i, ok := byDate[s.Date]; ok {
			out[i] = s
			continue
		}
		byDate[s.Date] = len(out)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b models.NavSample) int { return a.Date.Compare(b.Date) })
	return out
}
