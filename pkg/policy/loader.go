package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDelay debounces bursts of editor writes into a single reload.
const reloadDelay = 500 * time.Millisecond

// Loader reads policy files and directories and, when watching, reloads
// them on change.
type Loader struct {
	logger zerolog.Logger

	mu          sync.Mutex
	fingerprint string
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var allPolicies []Policy

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allPolicies = append(allPolicies, policies...)
	}

	l.logger.Debug().
		Int("total", len(allPolicies)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return allPolicies, nil
}

// loadFromPath loads policies from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(ctx, path)
	if err != nil {
		return nil, err
	}

	return []Policy{*policy}, nil
}

// loadFromDirectory loads all .rego and .json files below a directory.
// Files that fail to load are logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(path) {
			return nil
		}

		policy, err := l.loadFromFile(ctx, path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load policy file")
			return nil
		}

		policies = append(policies, *policy)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return policies, nil
}

func isPolicyFile(path string) bool {
	return strings.HasSuffix(path, ".rego") || strings.HasSuffix(path, ".json")
}

// loadFromFile loads a policy from a single file.
func (l *Loader) loadFromFile(_ context.Context, filePath string) (*Policy, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch {
	case strings.HasSuffix(filePath, ".rego"):
		policy, err = parseRegoFile(filePath, data)
	case strings.HasSuffix(filePath, ".json"):
		policy, err = parseJSONFile(filePath, data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("path", filePath).
		Str("policy", policy.Name).
		Msg("Policy loaded from file")

	return policy, nil
}

// parseRegoFile parses a .rego file into a Policy. The name is the file
// name; a leading "# severity: <level>" comment sets the default severity.
func parseRegoFile(filePath string, data []byte) (*Policy, error) {
	content := string(data)
	severity := extractSeverity(content)
	if err := severity.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(filePath), ".rego"),
		Description: extractDescription(content),
		Rego:        content,
		Severity:    severity,
		Enabled:     true,
		Source:      filePath,
	}, nil
}

// parseJSONFile parses a JSON policy definition.
func parseJSONFile(filePath string, data []byte) (*Policy, error) {
	policy := Policy{Enabled: true}
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}

	if policy.Name == "" {
		policy.Name = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	if policy.Severity == "" {
		policy.Severity = SeverityWarning
	}
	if err := policy.Severity.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	policy.Builtin = false
	policy.Source = filePath

	return &policy, nil
}

// leadingComments returns the comment lines at the top of a Rego file.
func leadingComments(content string) []string {
	var comments []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(comments) > 0 {
				break
			}
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		comments = append(comments, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
	}
	return comments
}

func extractSeverity(content string) Severity {
	for _, c := range leadingComments(content) {
		if v, ok := strings.CutPrefix(c, "severity:"); ok {
			return Severity(strings.ToLower(strings.TrimSpace(v)))
		}
	}
	return SeverityWarning
}

// extractDescription joins the leading comments, minus metadata lines.
func extractDescription(content string) string {
	var parts []string
	for _, c := range leadingComments(content) {
		if c == "" || strings.HasPrefix(c, "severity:") {
			continue
		}
		parts = append(parts, c)
	}
	return strings.Join(parts, " ")
}

// Watch reloads policies from paths whenever one of them changes, until ctx
// is done. Directories match any policy file below them; files match only
// themselves. reloadFn receives the complete reloaded set and is skipped when
// no policy content changed.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	var dirs []string
	files := make(map[string]bool)
	for _, path := range paths {
		path = filepath.Clean(path)
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to stat path for watching")
			continue
		}
		if info.IsDir() {
			dirs = append(dirs, path)
			if err := addTree(watcher, path); err != nil {
				l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch directory")
			}
			continue
		}
		// Editors replace files on save, so the parent is watched.
		files[path] = true
		if err := watcher.Add(filepath.Dir(path)); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch file")
		}
	}

	if policies, err := l.LoadFromPaths(ctx, paths); err == nil {
		l.changed(policies)
	}

	w := &policyWatch{loader: l, watcher: watcher, paths: paths, dirs: dirs, files: files, reload: reloadFn}
	go w.run(ctx)

	l.logger.Info().Int("paths", len(paths)).Msg("Started watching policy paths")
	return nil
}

// changed records the fingerprint of policies and reports whether it differs
// from the previous one.
func (l *Loader) changed(policies []Policy) bool {
	var b strings.Builder
	for _, p := range policies {
		fmt.Fprintf(&b, "%s\x00%s\x00%s\x00%t\x00%s\x00", p.Name, p.Severity, p.Source, p.Enabled, p.Rego)
	}
	fp := b.String()

	l.mu.Lock()
	defer l.mu.Unlock()
	if fp == l.fingerprint {
		return false
	}
	l.fingerprint = fp
	return true
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

type policyWatch struct {
	loader  *Loader
	watcher *fsnotify.Watcher
	paths   []string
	dirs    []string
	files   map[string]bool
	reload  func([]Policy) error
}

// relevant reports whether a change to name can alter the loaded set.
func (w *policyWatch) relevant(name string) bool {
	name = filepath.Clean(name)
	if w.files[name] {
		return true
	}
	if !isPolicyFile(name) {
		return false
	}
	for _, dir := range w.dirs {
		if rel, err := filepath.Rel(dir, name); err == nil && !strings.HasPrefix(rel, "..") {
			return true
		}
	}
	return false
}

func (w *policyWatch) run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = w.watcher.Close()
	}()

	logger := w.loader.logger
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// New subdirectories of a watched directory are watched too.
			if event.Op&fsnotify.Create != 0 && len(w.dirs) > 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addTree(w.watcher, event.Name); err != nil {
						logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 || !w.relevant(event.Name) {
				continue
			}
			logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDelay, func() {
				if err := w.reloadNow(ctx); err != nil {
					logger.Error().Err(err).Msg("Failed to reload policies")
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *policyWatch) reloadNow(ctx context.Context) error {
	policies, err := w.loader.LoadFromPaths(ctx, w.paths)
	if err != nil {
		return fmt.Errorf("failed to reload policies: %w", err)
	}
	if !w.loader.changed(policies) {
		w.loader.logger.Debug().Msg("Policy content unchanged, skipping reload")
		return nil
	}
	if err := w.reload(policies); err != nil {
		return fmt.Errorf("failed to apply reloaded policies: %w", err)
	}
	w.loader.logger.Info().Int("count", len(policies)).Msg("Policies reloaded")
	return nil
}
