package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/errs"
)

// Record is one tracked repository: its on-disk working tree, the auth
// material SetRepository registered it with, and a bounded count of
// consecutive pull failures. Auth is persisted in full (not just a
// reference) per spec.md section 3, since a later pull or a process
// restart needs the same credentials Init cloned with.
type Record struct {
	URL         string           `json:"url"`
	WorkingTree string           `json:"workingTree"`
	Auth        agentrpc.GitAuth `json:"auth,omitempty"`
	FailedPulls int              `json:"failedPulls"`
}

// Registry is the agent's persistent, file-backed repository list
// (spec.md section 4.5). The in-memory map is authoritative for the
// running process; the file is a best-effort mirror rewritten in full
// on every mutation.
type Registry struct {
	mu   sync.Mutex
	path string
	recs map[string]Record
}

// NewRegistry loads path, creating an empty document (and its parent
// directory) if absent.
func NewRegistry(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.RepoConfig, "failed to create registry directory", err)
	}

	r := &Registry{path: path, recs: map[string]Record{}}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if writeErr := r.persistLocked(); writeErr != nil {
			return nil, writeErr
		}
		return r, nil
	case err != nil:
		return nil, errs.Wrap(errs.RepoConfig, "failed to read registry file", err)
	}

	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.recs); err != nil {
		return nil, errs.Wrap(errs.RepoConfig, "failed to parse registry file", err)
	}
	return r, nil
}

// Get returns the record for url, if known.
func (r *Registry) Get(url string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[url]
	return rec, ok
}

// Upsert stores rec under rec.URL and rewrites the registry file.
func (r *Registry) Upsert(rec Record) error {
	r.mu.Lock()
	r.recs[rec.URL] = rec
	err := r.persistLocked()
	r.mu.Unlock()
	return err
}

// Delete forgets url and rewrites the registry file. It never touches
// the working tree on disk; callers are responsible for that.
func (r *Registry) Delete(url string) error {
	r.mu.Lock()
	delete(r.recs, url)
	err := r.persistLocked()
	r.mu.Unlock()
	return err
}

// Snapshot copies out the current set of records under the lock and
// releases it before returning, per the concurrency discipline in
// spec.md section 5: the refresh loop must never hold the registry
// lock across a pull.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.recs))
	for _, rec := range r.recs {
		out = append(out, rec)
	}
	return out
}

// IncrementFailedPulls bumps the failure counter for url and persists
// it, returning the new count.
func (r *Registry) IncrementFailedPulls(url string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[url]
	if !ok {
		return 0, nil
	}
	rec.FailedPulls++
	r.recs[url] = rec
	return rec.FailedPulls, r.persistLocked()
}

// ResetFailedPulls zeroes the failure counter for url after a successful
// pull.
func (r *Registry) ResetFailedPulls(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[url]
	if !ok || rec.FailedPulls == 0 {
		return nil
	}
	rec.FailedPulls = 0
	r.recs[url] = rec
	return r.persistLocked()
}

// persistLocked rewrites the registry file from r.recs. Callers must
// hold r.mu.
func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.recs, "", "  ")
	if err != nil {
		return errs.Wrap(errs.RepoConfig, "failed to marshal registry", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return errs.Wrap(errs.RepoConfig, "failed to write registry file", err)
	}
	return nil
}
