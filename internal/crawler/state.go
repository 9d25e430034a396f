package crawler

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// State records which months a crawl has fully fetched
type State struct {
	CompletedMonths []string   `json:"completed_months"`
	LastCrawl       *time.Time `json:"last_crawl"`
}

// StatePath returns the crawl state file kept next to a database
func StatePath(dbPath string) string {
	return dbPath + ".crawl.json"
}

// LoadState reads a state file; a missing file is an empty state
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &State{CompletedMonths: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse crawl state %s: %w", path, err)
	}
	if s.CompletedMonths == nil {
		s.CompletedMonths = []string{}
	}
	return &s, nil
}

// Save writes the state atomically
func (s *State) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to write crawl state: %w", err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write crawl state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write crawl state: %w", err)
	}
	return nil
}

// Completed returns the completed months as a set
func (s *State) Completed() map[string]bool {
	set := make(map[string]bool, len(s.CompletedMonths))
	for _, p := range s.CompletedMonths {
		set[p] = true
	}
	return set
}

// MarkCompleted adds periods and stamps the crawl time
func (s *State) MarkCompleted(periods []string, at time.Time) {
	set := s.Completed()
	for _, p := range periods {
		set[p] = true
	}
	months := make([]string, 0, len(set))
	for p := range set {
		months = append(months, p)
	}
	sort.Strings(months)
	s.CompletedMonths = months
	at = at.UTC()
	s.LastCrawl = &at
}

// Latest is the most recent completed month, or "" when none
func (s *State) Latest() string {
	latest := ""
	for _, p := range s.CompletedMonths {
		if p > latest {
			latest = p
		}
	}
	return latest
}

// IncrementalOptions starts at the latest completed month and crawls it
// again, since it may have gained messages since.
func (s *State) IncrementalOptions() Options {
	latest := s.Latest()
	completed := s.Completed()
	delete(completed, latest)
	return Options{From: latest, Completed: completed}
}
