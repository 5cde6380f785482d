// Package publish delivers the files the front end reads: the signal
// snapshot, state, ledger, NAV history, summary and chart.
package publish

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"eom_fund/internal/storage"
)

// Published file names.
const (
	SnapshotFile = "eom_signal.json"
	StateFile    = "fund_state.json"
	LedgerFile   = "fund_tradelog.csv"
	NavFile      = "fund_nav.json"
	SummaryFile  = "fund_summary.json"
	ChartFile    = "fund_nav.png"
	StatusFile   = "fund_status.md"
)

// Sink stores one named artifact.
type Sink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) error
}

// ContentType guesses the MIME type from the file extension.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return "application/json"
	case ".csv":
		return "text/csv"
	case ".png":
		return "image/png"
	case ".md":
		return "text/markdown"
	}
	return "application/octet-stream"
}

// DirSink writes artifacts atomically under Dir.
type DirSink struct {
	Dir string
}

func (d DirSink) Put(_ context.Context, name string, data []byte, _ string) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("publish: invalid artifact name %q", name)
	}
	return storage.WriteFileAtomic(filepath.Join(d.Dir, name), data)
}

// Multi fans a Put out to every sink. All sinks are attempted; the errors are
// joined.
type Multi []Sink

func (m Multi) Put(ctx context.Context, name string, data []byte, contentType string) error {
	var errs []error
	for _, s := range m {
		if err := s.Put(ctx, name, data, contentType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
