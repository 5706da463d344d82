// Package cron runs the gateway's maintenance jobs on second-resolution cron
// expressions and keeps their last run state on disk.
package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// JobFunc does one run of a job and returns a short summary for the log.
type JobFunc func(ctx context.Context) (string, error)

// JobState is the persisted record of a job's runs.
type JobState struct {
	Name        string `json:"name"`
	Expr        string `json:"expr"`
	Runs        int    `json:"runs"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

type job struct {
	state   JobState
	run     JobFunc
	entryID rcron.EntryID
	entered bool
}

var parser = rcron.NewParser(rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

type Service struct {
	statePath string
	now       func() time.Time

	mu     sync.Mutex
	jobs   map[string]*job
	cron   *rcron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
}

func NewService(statePath string) *Service {
	return &Service{
		statePath: statePath,
		now:       time.Now,
		jobs:      make(map[string]*job),
	}
}

// AddJob registers fn under name. Adding an existing name replaces it.
func (s *Service) AddJob(name, expr string, fn JobFunc) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if fn == nil {
		return fmt.Errorf("job %s has no function", name)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("parse schedule %q for job %s: %w", expr, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j := &job{state: JobState{Name: name, Expr: expr}, run: fn}
	if old, ok := s.jobs[name]; ok {
		j.state.Runs = old.state.Runs
		j.state.LastRunAtMs = old.state.LastRunAtMs
		j.state.LastStatus = old.state.LastStatus
		j.state.LastError = old.state.LastError
		if old.entered && s.cron != nil {
			s.cron.Remove(old.entryID)
		}
	}
	s.jobs[name] = j
	if s.cron != nil {
		s.registerLocked(j)
	}
	return nil
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})

	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load job state: %v", err)
	}

	s.mu.Lock()
	s.ctx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	s.cron = rcron.New(rcron.WithParser(parser))
	for _, name := range s.namesLocked() {
		s.registerLocked(s.jobs[name])
	}
	c := s.cron
	count := len(s.jobs)
	s.mu.Unlock()

	c.Start()
	log.Printf("[cron] started with %d jobs", count)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
		}
	}()
	return nil
}

func (s *Service) registerLocked(j *job) {
	name := j.state.Name
	id, err := s.cron.AddFunc(j.state.Expr, func() {
		if err := s.RunNow(name); err != nil {
			log.Printf("[cron] %v", err)
		}
	})
	if err != nil {
		log.Printf("[cron] failed to register job %s (%s): %v", name, j.state.Expr, err)
		return
	}
	j.entryID = id
	j.entered = true
}

// RunNow runs the named job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	ctx := s.ctx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := j.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &j.state
	st.Runs++
	st.LastRunAtMs = s.now().UnixMilli()
	if err != nil {
		st.LastStatus = "error"
		st.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", name, err)
	} else {
		st.LastStatus = "ok"
		st.LastError = ""
		log.Printf("[cron] job %s result: %s", name, truncate(result, 100))
	}
	if saveErr := s.saveLocked(); saveErr != nil {
		log.Printf("[cron] save job state: %v", saveErr)
	}
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	c := s.cron
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

// ListJobs returns job states sorted by name.
func (s *Service) ListJobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobState, 0, len(s.jobs))
	for _, name := range s.namesLocked() {
		out = append(out, s.jobs[name].state)
	}
	return out
}

func (s *Service) namesLocked() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadStates reads the persisted job states at path without starting anything.
func LoadStates(path string) ([]JobState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var states []JobState
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("parse job state: %w", err)
	}
	return states, nil
}

// load restores run counters for jobs already added.
func (s *Service) load() error {
	states, err := LoadStates(s.statePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		j, ok := s.jobs[st.Name]
		if !ok {
			continue
		}
		j.state.Runs = st.Runs
		j.state.LastRunAtMs = st.LastRunAtMs
		j.state.LastStatus = st.LastStatus
		j.state.LastError = st.LastError
	}
	return nil
}

func (s *Service) saveLocked() error {
	if s.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return err
	}
	states := make([]JobState, 0, len(s.jobs))
	for _, name := range s.namesLocked() {
		states = append(states, s.jobs[name].state)
	}
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.statePath, data, 0644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
