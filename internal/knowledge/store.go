// Package knowledge implements the Knowledge Store (spec component 4.A): a
// durable, typed, concurrency-safe store of everything Cortex has learned
// about a fleet of services, grounded on the in-memory-map +
// debounced-disk-flush pattern of the teacher's investigation store.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/model"
)

const saveDebounce = 2 * time.Second

// referenceAnchor matches the platform's variable-reference syntax, e.g.
// "${{redis.REDIS_URL}}" -> captures "redis".
var referenceAnchor = regexp.MustCompile(`\$\{\{([^.}]+)\.`)

// ParseReference reports whether value contains the platform's reference
// syntax and, if so, which service it names.
func ParseReference(value string) (service string, isReference bool) {
	m := referenceAnchor.FindStringSubmatch(value)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

type persistedState struct {
	Services     map[string]model.Service              `json:"services"`
	Dependencies map[string][]model.Dependency          `json:"dependencies"`
	Variables    map[string]map[string]model.Variable   `json:"variables"`
	Files        map[string][]model.FileSnapshot        `json:"files"`
	Commits      map[string][]model.Commit              `json:"commits"`
	Deploys      map[string][]model.Deploy              `json:"deploys"`
	ProjectInfo  map[string]model.ProjectInfo            `json:"project_info"`
	Flags        map[string][]model.Flag                `json:"flags"`
	Incidents    map[string]model.Incident              `json:"incidents"`
	Events       []model.Event                          `json:"events"`
}

func newPersistedState() persistedState {
	return persistedState{
		Services:     map[string]model.Service{},
		Dependencies: map[string][]model.Dependency{},
		Variables:    map[string]map[string]model.Variable{},
		Files:        map[string][]model.FileSnapshot{},
		Commits:      map[string][]model.Commit{},
		Deploys:      map[string][]model.Deploy{},
		ProjectInfo:  map[string]model.ProjectInfo{},
		Flags:        map[string][]model.Flag{},
		Incidents:    map[string]model.Incident{},
		Events:       []model.Event{},
	}
}

// Store is the Knowledge Store: a concurrency-safe, disk-backed aggregate
// of every entity in the data model.
type Store struct {
	mu    sync.RWMutex
	state persistedState

	dataDir  string
	filePath string
	crypto   *cryptoManager

	saveTimer *time.Timer
	dirty     bool
}

// Option configures New.
type Option func(*Store)

// WithEncryptionSecret enables at-rest encryption of the store file using
// the given secret. Without it, the store is written as plain JSON.
func WithEncryptionSecret(secret string) Option {
	return func(s *Store) {
		if secret == "" {
			return
		}
		cm, err := newCryptoManagerAt(s.dataDir, secret)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize knowledge store encryption, data will be unencrypted")
			return
		}
		s.crypto = cm
	}
}

// New constructs a Store backed by dataDir, loading any existing state.
func New(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	s := &Store{
		state:   newPersistedState(),
		dataDir: dataDir,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.filePath = filepath.Join(dataDir, "knowledge.json")
	if s.crypto != nil {
		s.filePath += ".enc"
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			// Fall back to an unencrypted legacy file if present.
			if s.crypto != nil {
				return s.loadPlain(filepath.Join(s.dataDir, "knowledge.json"))
			}
			return nil
		}
		return fmt.Errorf("reading store file: %w", err)
	}

	if s.crypto != nil {
		plain, err := s.crypto.Decrypt(data)
		if err != nil {
			log.Warn().Err(err).Msg("failed to decrypt knowledge store, attempting plain JSON fallback")
			return json.Unmarshal(data, &s.state)
		}
		return json.Unmarshal(plain, &s.state)
	}

	return json.Unmarshal(data, &s.state)
}

func (s *Store) loadPlain(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading legacy store file: %w", err)
	}
	return json.Unmarshal(data, &s.state)
}

// scheduleSave debounces disk flushes: callers hold s.mu when calling this.
func (s *Store) scheduleSave() {
	s.dirty = true
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		if err := s.Flush(); err != nil {
			log.Error().Err(err).Msg("failed to flush knowledge store to disk")
		}
	})
}

// Flush writes the current state to disk immediately, regardless of the
// debounce timer. Safe to call from Shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	s.dirty = false
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling store: %w", err)
	}

	if s.crypto != nil {
		data, err = s.crypto.Encrypt(data)
		if err != nil {
			return fmt.Errorf("encrypting store: %w", err)
		}
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing store temp file: %w", err)
	}
	return os.Rename(tmp, s.filePath)
}

// Shutdown force-flushes the store. Call during graceful shutdown.
func (s *Store) Shutdown() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.mu.Unlock()
	return s.Flush()
}

// --- Services ---------------------------------------------------------

// UpsertService creates or updates a service row by name.
func (s *Store) UpsertService(svc model.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc.UpdatedAt = time.Now()
	s.state.Services[svc.Name] = svc
	s.scheduleSave()
}

// GetService returns a service by name.
func (s *Store) GetService(name string) (model.Service, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.state.Services[name]
	return svc, ok
}

// ListServices returns all known services.
func (s *Store) ListServices() []model.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Service, 0, len(s.state.Services))
	for _, svc := range s.state.Services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// --- Dependencies -------------------------------------------------------

// SetDependencies replaces all outgoing dependency edges for a service
// (Discovery rebuilds the full edge set each run).
func (s *Store) SetDependencies(service string, deps []model.Dependency) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Dependencies[service] = deps
	s.scheduleSave()
}

// GetDependencies returns outgoing edges for a service.
func (s *Store) GetDependencies(service string) []model.Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Dependency(nil), s.state.Dependencies[service]...)
}

// GetDependents returns incoming edges (services that depend on service).
func (s *Store) GetDependents(service string) []model.Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Dependency
	for _, deps := range s.state.Dependencies {
		for _, d := range deps {
			if d.DependsOn == service {
				out = append(out, d)
			}
		}
	}
	return out
}

// AllDependencies returns every dependency edge across every service.
func (s *Store) AllDependencies() []model.Dependency {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Dependency
	for _, deps := range s.state.Dependencies {
		out = append(out, deps...)
	}
	return out
}

// --- Variables ------------------------------------------------------------

// sensitiveKeyPattern matches variable names the masking rule applies to.
var sensitiveKeyPattern = regexp.MustCompile(`(?i)SECRET|PASSWORD|KEY|TOKEN`)

// connectionHostKeyPattern matches variable names that look like a
// connection target (used for variable issue detection).
var connectionHostKeyPattern = regexp.MustCompile(`(?i)_HOST$|_URL$|DATABASE_URL|_DSN$`)

// StoreVariables bulk-replaces all variables for a service, parsing the
// reference syntax as it stores them.
func (s *Store) StoreVariables(service string, raw map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vars := make(map[string]model.Variable, len(raw))
	for k, v := range raw {
		refService, isRef := ParseReference(v)
		vars[k] = model.Variable{
			Service:           service,
			Key:               k,
			Value:             v,
			IsReference:       isRef,
			ReferencesService: refService,
		}
	}
	s.state.Variables[service] = vars
	s.scheduleSave()
}

// GetVariables returns the raw (unmasked) variables for a service.
func (s *Store) GetVariables(service string) []model.Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Variable, 0, len(s.state.Variables[service]))
	for _, v := range s.state.Variables[service] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// GetVariableIssues returns variables whose key looks like a connection
// target but whose value is not a platform reference and contains a literal
// host/port separator, i.e. looks hardcoded.
func (s *Store) GetVariableIssues(service string) []model.VariableIssue {
	vars := s.GetVariables(service)
	var out []model.VariableIssue
	for _, v := range vars {
		if !connectionHostKeyPattern.MatchString(v.Key) {
			continue
		}
		if v.IsReference {
			continue
		}
		if !strings.ContainsAny(v.Value, ".:") {
			continue
		}
		out = append(out, model.VariableIssue{
			Service: v.Service,
			Key:     v.Key,
			Value:   v.Value,
			Reason:  "Looks hardcoded. Should be a Railway reference?",
		})
	}
	return out
}

// AllVariablesByKey groups every variable across every service by key, for
// Discovery's cross-service consistency validation.
func (s *Store) AllVariablesByKey() map[string][]model.Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := map[string][]model.Variable{}
	for _, svcVars := range s.state.Variables {
		for key, v := range svcVars {
			out[key] = append(out[key], v)
		}
	}
	return out
}

// MaskSensitiveValue applies the masking rule used whenever variable values
// are surfaced to the LLM: keys matching SECRET|PASSWORD|KEY|TOKEN show only
// their first/last 4 characters (or "***" when too short to do so safely).
func MaskSensitiveValue(key, value string) string {
	if !sensitiveKeyPattern.MatchString(key) {
		return value
	}
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// --- Files, commits, deploys, project info --------------------------------

// StoreFiles replaces the stored key-file snapshots for a service.
func (s *Store) StoreFiles(service string, files []model.FileSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Files[service] = files
	s.scheduleSave()
}

// GetFile returns one stored file's content by path, if present.
func (s *Store) GetFile(service, path string) (model.FileSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.state.Files[service] {
		if f.Path == path {
			return f, true
		}
	}
	return model.FileSnapshot{}, false
}

// ListFiles returns all stored key-file snapshots for a service.
func (s *Store) ListFiles(service string) []model.FileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.FileSnapshot(nil), s.state.Files[service]...)
}

// StoreCommits replaces the stored commit history for a service.
func (s *Store) StoreCommits(service string, commits []model.Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Commits[service] = commits
	s.scheduleSave()
}

// ListCommits returns up to limit recent commits for a service (already
// newest-first as fetched from the code host).
func (s *Store) ListCommits(service string, limit int) []model.Commit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.state.Commits[service]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return append([]model.Commit(nil), all...)
}

// StoreDeploys replaces the stored deploy history for a service.
func (s *Store) StoreDeploys(service string, deploys []model.Deploy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Deploys[service] = deploys
	s.scheduleSave()
}

// ListDeploys returns up to limit recent deploys for a service, newest first.
func (s *Store) ListDeploys(service string, limit int) []model.Deploy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.state.Deploys[service]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return append([]model.Deploy(nil), all...)
}

// StoreProjectInfo replaces the code-inspection result for a service.
func (s *Store) StoreProjectInfo(info model.ProjectInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ProjectInfo[info.Service] = info
	s.scheduleSave()
}

// GetProjectInfo returns the stored project info for a service.
func (s *Store) GetProjectInfo(service string) (model.ProjectInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.state.ProjectInfo[service]
	return info, ok
}

// --- Flags ------------------------------------------------------------

// AddFlag appends a flag for a service.
func (s *Store) AddFlag(flag model.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	flag.CreatedAt = time.Now()
	s.state.Flags[flag.Service] = append(s.state.Flags[flag.Service], flag)
	s.scheduleSave()
}

// ListFlags returns flags for a service, or every flag when service is "".
func (s *Store) ListFlags(service string) []model.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if service != "" {
		return append([]model.Flag(nil), s.state.Flags[service]...)
	}
	var out []model.Flag
	for _, flags := range s.state.Flags {
		out = append(out, flags...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ClearFlags clears flags for a service, or every flag when service is "".
// Discovery clears every flag at the start of each run, before Phase 1.
func (s *Store) ClearFlags(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if service != "" {
		delete(s.state.Flags, service)
	} else {
		s.state.Flags = map[string][]model.Flag{}
	}
	s.scheduleSave()
}

// --- Incidents ------------------------------------------------------------

// SaveIncident upserts an incident by id (idempotent).
func (s *Store) SaveIncident(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Incidents[inc.ID] = inc
	s.scheduleSave()
}

// GetIncident returns one incident by id.
func (s *Store) GetIncident(id string) (model.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.state.Incidents[id]
	return inc, ok
}

// ListRecentIncidents returns incidents newest-first, optionally filtered
// to one service, capped at limit.
func (s *Store) ListRecentIncidents(service string, limit int) []model.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Incident
	for _, inc := range s.state.Incidents {
		if service != "" && inc.Service != service {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// --- Event log --------------------------------------------------------

// Log appends an event-log entry.
func (s *Store) Log(eventType, service, message string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := model.Event{
		ID:      ulid.Make().String(),
		Type:    eventType,
		Service: service,
		Message: message,
		Details: details,
		Time:    time.Now(),
	}
	s.state.Events = append(s.state.Events, ev)
	s.scheduleSave()
}

// ListEvents returns the append-only event log in insertion order.
func (s *Store) ListEvents() []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Event(nil), s.state.Events...)
}

// --- Deep context -----------------------------------------------------

// GetDeepContext assembles the aggregate view the Investigation Engine's
// initial dossier is built from.
func (s *Store) GetDeepContext(serviceName string) (model.DeepContext, bool) {
	svc, ok := s.GetService(serviceName)
	if !ok {
		return model.DeepContext{}, false
	}

	var project *model.ProjectInfo
	if info, ok := s.GetProjectInfo(serviceName); ok {
		project = &info
	}

	return model.DeepContext{
		Service:         svc,
		Dependencies:    s.GetDependencies(serviceName),
		Dependents:      s.GetDependents(serviceName),
		Variables:       s.GetVariables(serviceName),
		VariableIssues:  s.GetVariableIssues(serviceName),
		Project:         project,
		Files:           s.ListFiles(serviceName),
		RecentCommits:   s.ListCommits(serviceName, 5),
		RecentDeploys:   s.ListDeploys(serviceName, 3),
		RecentIncidents: s.ListRecentIncidents(serviceName, 3),
		OpenFlags:       s.ListFlags(serviceName),
	}, true
}
