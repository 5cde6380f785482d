package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"

	"eom_fund/internal/models"

	"github.com/shopspring/decimal"
)

// SchemaVersion is written into every saved state file.
const SchemaVersion = "2.0"

// ErrCorruptState is returned when a state file exists but cannot be trusted.
var ErrCorruptState = errors.New("corrupt state file")

// StateStore persists the PortfolioState singleton as JSON.
type StateStore struct {
	Path       string
	InitialNAV decimal.Decimal // used only when no file exists yet
}

// NewStateStore returns a store for path, seeding first runs with initialNAV of cash.
func NewStateStore(path string, initialNAV decimal.Decimal) *StateStore {
	return &StateStore{Path: path, InitialNAV: initialNAV}
}

// fileState mirrors PortfolioState with the fields that older files may omit as pointers,
// so "missing" can be told apart from "zero".
type fileState struct {
	Version         string           `json:"version"`
	InitialNAV      *decimal.Decimal `json:"initial_nav"`
	NAV             *decimal.Decimal `json:"nav"`
	Cash            *decimal.Decimal `json:"cash"`
	FeesPaid        decimal.Decimal  `json:"fees_paid"`
	Positions       models.Positions `json:"open_positions"`
	PlannedExitDate models.Date      `json:"planned_exit_date"`
	LastSignalDate  models.Date      `json:"last_signal_date"`
	LastRunDate     models.Date      `json:"last_run_date"`
}

// Initial returns the state of a portfolio that has never run.
func (s *StateStore) Initial() models.PortfolioState {
	return models.PortfolioState{
		Version:    SchemaVersion,
		InitialNAV: s.InitialNAV,
		NAV:        s.InitialNAV,
		Cash:       s.InitialNAV,
		Positions:  models.Positions{},
	}
}

// Load reads the portfolio state from disk. A missing file is a first run and
// yields Initial(); a file that exists but does not parse fails closed with ErrCorruptState.
func (s *StateStore) Load() (models.PortfolioState, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("INFO: State file %s missing, starting a fresh portfolio with %s", s.Path, s.InitialNAV.StringFixed(2))
		return s.Initial(), nil
	}
	if err != nil {
		return models.PortfolioState{}, fmt.Errorf("storage: read state %s: %w", s.Path, err)
	}
	return decodeState(b, s.InitialNAV)
}

func decodeState(b []byte, defaultNAV decimal.Decimal) (models.PortfolioState, error) {
	var f fileState
	if err := json.Unmarshal(b, &f); err != nil {
		return models.PortfolioState{}, fmt.Errorf("storage: %w: %v", ErrCorruptState, err)
	}
	newer, err := newerSchema(f.Version)
	if err != nil {
		return models.PortfolioState{}, fmt.Errorf("storage: %w: %v", ErrCorruptState, err)
	}
	if newer {
		return models.PortfolioState{}, fmt.Errorf("storage: %w: written by newer schema %s (supported %s)", ErrCorruptState, f.Version, SchemaVersion)
	}

	st := models.PortfolioState{
		Version:         SchemaVersion,
		FeesPaid:        f.FeesPaid,
		Positions:       f.Positions,
		PlannedExitDate: f.PlannedExitDate,
		LastSignalDate:  f.LastSignalDate,
		LastRunDate:     f.LastRunDate,
	}
	if st.Positions == nil {
		st.Positions = models.Positions{}
	}

	st.InitialNAV = defaultNAV
	if f.InitialNAV != nil {
		st.InitialNAV = *f.InitialNAV
	}
	st.NAV = st.InitialNAV
	if f.NAV != nil {
		st.NAV = *f.NAV
	}

	// Files from the first generation of the fund carried no cash field: all
	// capital was either fully invested or fully in cash as "nav".
	switch {
	case f.Cash != nil:
		st.Cash = *f.Cash
	case len(st.Positions) == 0:
		st.Cash = st.NAV
	default:
		st.Cash = decimal.Zero
	}

	for t, p := range st.Positions {
		if !p.EntryPrice.IsPositive() || p.Qty.IsNegative() {
			return models.PortfolioState{}, fmt.Errorf("storage: %w: position %s has qty %s at %s", ErrCorruptState, t, p.Qty, p.EntryPrice)
		}
		if p.PlannedExit.IsZero() {
			p.PlannedExit = st.PlannedExitDate
			st.Positions[t] = p
		}
	}
	return st, nil
}

// newerSchema reports whether version is above SchemaVersion. Versions are
// "major.minor"; files without one predate versioning.
func newerSchema(version string) (bool, error) {
	if version == "" {
		return false, nil
	}
	major, minor, err := parseVersion(version)
	if err != nil {
		return false, err
	}
	curMajor, curMinor, _ := parseVersion(SchemaVersion)
	if major != curMajor {
		return major > curMajor, nil
	}
	return minor > curMinor, nil
}

func parseVersion(v string) (int, int, error) {
	majorStr, minorStr, _ := strings.Cut(v, ".")
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("bad schema version %q", v)
	}
	minor := 0
	if minorStr != "" {
		if minor, err = strconv.Atoi(minorStr); err != nil {
			return 0, 0, fmt.Errorf("bad schema version %q", v)
		}
	}
	return major, minor, nil
}

// Save writes the state atomically.
func (s *StateStore) Save(st models.PortfolioState) error {
	st.Version = SchemaVersion
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: marshal state: %w", err)
	}
	return WriteFileAtomic(s.Path, append(b, '\n'))
}
