package model

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// artifactExtensions are probed in order during discovery.
var artifactExtensions = []string{".bin", ".model", ".xgb", ".pkl"}

// artifactTTL bounds how long raw artifact bytes live in the shared
// cache before disk is consulted again.
const artifactTTL = time.Hour

// Loader discovers and deserializes rule artifacts under a root
// directory. Artifacts are loaded once per process and held for the
// lifetime of the loader; a shared cache, when configured, serves the
// raw bytes before disk is touched.
type Loader struct {
	root   string
	tenant string
	cache  domain.Cache

	mu     sync.RWMutex
	loaded map[string]*Artifact
	misses map[string]bool
}

// NewLoader creates a loader over the given optimizer root. cache may
// be nil; tenant scopes the cached bytes.
func NewLoader(root, tenant string, cache domain.Cache) *Loader {
	return &Loader{
		root:   root,
		tenant: tenant,
		cache:  cache,
		loaded: make(map[string]*Artifact),
		misses: make(map[string]bool),
	}
}

// Discover probes the rule's pipeline directory for an artifact and
// returns its path when one exists. The first match in lexical order
// wins so discovery is deterministic.
func (l *Loader) Discover(rule string) (string, bool) {
	dir := filepath.Join(l.root, rule, "Pipeline")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		for _, want := range artifactExtensions {
			if ext == want {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

// Load returns the artifact for the rule, reading it at most once per
// process. A missing artifact classifies MODEL_UNAVAILABLE; a present
// but unreadable one classifies MODEL_LOAD_ERROR.
func (l *Loader) Load(ctx context.Context, rule string) (*Artifact, error) {
	l.mu.RLock()
	a, ok := l.loaded[rule]
	missed := l.misses[rule]
	l.mu.RUnlock()
	if ok {
		return a, nil
	}
	if missed {
		return nil, domain.Ef(domain.KindModelUnavailable, "model.Load", "no artifact for rule %s", rule)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if a, ok := l.loaded[rule]; ok {
		return a, nil
	}

	data, err := l.fetch(ctx, rule)
	if err != nil {
		if domain.KindOf(err) == domain.KindModelUnavailable {
			l.misses[rule] = true
		}
		return nil, err
	}

	a, err = Parse(data)
	if err != nil {
		return nil, err
	}
	l.loaded[rule] = a
	slog.Debug("model artifact loaded", "rule", rule, "kind", a.Kind, "type", a.Model.Type)
	return a, nil
}

// Available reports whether a loadable artifact exists for the rule
// without deserializing it.
func (l *Loader) Available(ctx context.Context, rule string) bool {
	l.mu.RLock()
	_, ok := l.loaded[rule]
	missed := l.misses[rule]
	l.mu.RUnlock()
	if ok {
		return true
	}
	if missed {
		return false
	}
	if l.cachedBytes(ctx, rule) != nil {
		return true
	}
	_, found := l.Discover(rule)
	return found
}

func (l *Loader) fetch(ctx context.Context, rule string) ([]byte, error) {
	if data := l.cachedBytes(ctx, rule); data != nil {
		return data, nil
	}

	path, found := l.Discover(rule)
	if !found {
		return nil, domain.Ef(domain.KindModelUnavailable, "model.fetch", "no artifact for rule %s", rule)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.E(domain.KindModelLoad, "model.fetch", err)
	}

	if l.cache != nil {
		if err := l.cache.SetArtifact(ctx, l.tenant, rule, data, artifactTTL); err != nil {
			slog.Warn("artifact cache write failed", "rule", rule, "error", err)
		}
	}
	return data, nil
}

func (l *Loader) cachedBytes(ctx context.Context, rule string) []byte {
	if l.cache == nil {
		return nil
	}
	data, err := l.cache.GetArtifact(ctx, l.tenant, rule)
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}
