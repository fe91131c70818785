package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay collapses bursts of file events into one reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policies from .rego files, JSON policy files and JSON bundles.
//
// A .rego file may open with a comment header:
//
//	# Rejects plans that include the experimental strategies.
//	# severity: error
//	# tags: safety, experimental
//
// The policy name is the file name without its extension.
type Loader struct {
	logger  zerolog.Logger
	cache   map[string]cachedFile
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
}

type cachedFile struct {
	modTime  time.Time
	policies []Policy
}

func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy_loader").Logger(),
		cache:  make(map[string]cachedFile),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths. The result is
// sorted by name.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loaded, err := l.loadPath(path)
		if err != nil {
			return nil, fmt.Errorf("policy path %s: %w", path, err)
		}
		out = append(out, loaded...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	l.logger.Info().Int("policies", len(out)).Strs("paths", paths).Msg("Loaded policies")
	return out, nil
}

func (l *Loader) loadPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.loadDir(path)
	}
	return l.loadFile(path)
}

// loadDir walks dir for .rego and .json files. A file that fails to parse is
// logged and skipped so one bad file does not take the others down.
func (l *Loader) loadDir(dir string) ([]Policy, error) {
	var policies []Policy
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		loaded, err := l.loadFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable policy file")
			return nil
		}
		policies = append(policies, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

// loadFile parses one file, reusing the previous result while its mtime is unchanged.
func (l *Loader) loadFile(filePath string) ([]Policy, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	cached, exists := l.cache[filePath]
	l.mu.RUnlock()
	if exists && cached.modTime.Equal(info.ModTime()) {
		return cached.policies, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var policies []Policy
	switch filepath.Ext(filePath) {
	case ".rego":
		policies = []Policy{parseRegoFile(filePath, data)}
	case ".json":
		policies, err = parseJSONFile(filePath, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: policy files must end in .rego or .json", filePath)
	}

	l.mu.Lock()
	l.cache[filePath] = cachedFile{modTime: info.ModTime(), policies: policies}
	l.mu.Unlock()

	l.logger.Debug().Str("path", filePath).Int("policies", len(policies)).Msg("Parsed policy file")

	return policies, nil
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// parseRegoFile turns a .rego file into a Policy, reading metadata from its comment header.
func parseRegoFile(filePath string, data []byte) Policy {
	policy := Policy{
		Name:     strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Rego:     string(data),
		Severity: SeverityWarning,
		Enabled:  true,
		Source:   filePath,
		Tags:     []string{},
		LoadedAt: time.Now(),
	}

	var description []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(description) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}

		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		key, value, found := strings.Cut(comment, ":")
		switch {
		case found && strings.EqualFold(strings.TrimSpace(key), "severity"):
			if sev := Severity(strings.ToLower(strings.TrimSpace(value))); sev.Valid() {
				policy.Severity = sev
			}
		case found && strings.EqualFold(strings.TrimSpace(key), "tags"):
			for _, tag := range strings.Split(value, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					policy.Tags = append(policy.Tags, tag)
				}
			}
		case comment != "":
			description = append(description, comment)
		}
	}
	policy.Description = strings.Join(description, " ")

	return policy
}

// parseJSONFile parses either a single policy or a bundle with a policies array.
func parseJSONFile(filePath string, data []byte) ([]Policy, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	var policies []Policy
	if _, isBundle := probe["policies"]; isBundle {
		bundle, err := parseBundle(data)
		if err != nil {
			return nil, err
		}
		policies = bundle.Policies
	} else {
		var single Policy
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		if _, set := probe["enabled"]; !set {
			single.Enabled = true
		}
		policies = []Policy{single}
	}

	for i := range policies {
		if policies[i].Name == "" {
			return nil, fmt.Errorf("policy %d in %s has no name", i, filePath)
		}
		if policies[i].Severity == "" {
			policies[i].Severity = SeverityWarning
		}
		policies[i].Builtin = false
		policies[i].Source = filePath
		if policies[i].LoadedAt.IsZero() {
			policies[i].LoadedAt = time.Now()
		}
	}
	return policies, nil
}

func parseBundle(data []byte) (*PolicyBundle, error) {
	var bundle PolicyBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("policy bundle: %w", err)
	}
	// Bundle entries are enabled unless they say otherwise.
	var raw struct {
		Policies []map[string]json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(data, &raw); err == nil {
		for i := range bundle.Policies {
			if i < len(raw.Policies) {
				if _, set := raw.Policies[i]["enabled"]; !set {
					bundle.Policies[i].Enabled = true
				}
			}
		}
	}
	return &bundle, nil
}

// LoadBundle reads a bundle file as is, without the per-file defaults LoadFromPaths applies.
func (l *Loader) LoadBundle(bundlePath string) (*PolicyBundle, error) {
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		return nil, err
	}
	bundle, err := parseBundle(data)
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("bundle", bundle.Name).Str("version", bundle.Version).
		Int("policies", len(bundle.Policies)).Msg("Loaded policy bundle")
	return bundle, nil
}

// Watch starts watching paths for policy changes and calls reloadFn with the full policy set
// after each change settles. Watching stops when ctx is done or StopWatching is called.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch missing policy path")
			continue
		}
		if info.IsDir() {
			err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if d.IsDir() {
					return watcher.Add(p)
				}
				return nil
			})
		} else {
			err = watcher.Add(path)
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Cannot watch policy path")
			continue
		}
		watched++
	}

	if watched == 0 && len(paths) > 0 {
		_ = watcher.Close()
		return fmt.Errorf("none of the policy paths could be watched")
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go l.watchLoop(ctx, watcher, paths, reloadFn)
	l.logger.Info().Int("paths", watched).Msg("Watching policy paths")
	return nil
}

// watchLoop turns file events into reloads, waiting reloadDelay after the last event.
func (l *Loader) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !isPolicyFile(event.Name) {
				continue
			}

			l.logger.Debug().Str("file", event.Name).Stringer("op", event.Op).Msg("Policy file event")

			l.mu.Lock()
			delete(l.cache, event.Name)
			l.mu.Unlock()

			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDelay, func() {
				if err := l.reload(ctx, paths, reloadFn); err != nil {
					l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous set")
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) reload(ctx context.Context, paths []string, apply func([]Policy) error) error {
	if ctx.Err() != nil {
		return nil
	}
	policies, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	if err := apply(policies); err != nil {
		return fmt.Errorf("apply reloaded policies: %w", err)
	}
	l.logger.Info().Int("policies", len(policies)).Msg("Reloaded policies")
	return nil
}

// StopWatching closes the watcher started by Watch. It is safe to call more than once.
func (l *Loader) StopWatching() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	l.watcher = nil
	return err
}

// ClearCache forces the next load to re-parse every file.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]cachedFile)
	l.mu.Unlock()
}
