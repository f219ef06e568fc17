package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"mercator-hq/ganymede/pkg/rule/ast"
	"mercator-hq/ganymede/pkg/rule/parser"
)

// FileSource loads rule definitions from YAML files on disk.
// The path can be either a single file or a directory; directories are
// walked for .yaml and .yml files in lexical order, so rule registration
// order across files is deterministic.
type FileSource struct {
	path     string
	parser   *parser.Parser
	logger   *slog.Logger
	debounce time.Duration
}

// NewFileSource creates a new file-based rule source.
func NewFileSource(path string, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		path:     path,
		parser:   parser.NewParser(),
		logger:   logger,
		debounce: 100 * time.Millisecond,
	}
}

// WithDebounce sets the watch debounce interval (default: 100ms).
func (s *FileSource) WithDebounce(d time.Duration) *FileSource {
	s.debounce = d
	return s
}

// Load loads all rule definitions from the configured path.
func (s *FileSource) Load(ctx context.Context) ([]*ast.Rule, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	var rules []*ast.Rule
	if info.IsDir() {
		rules, err = s.loadDirectory()
	} else {
		rules, err = s.parser.Parse(s.path)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("loaded rules from source",
		"path", s.path,
		"rule_count", len(rules),
	)
	return rules, nil
}

// loadDirectory loads all rule files from a directory.
func (s *FileSource) loadDirectory() ([]*ast.Rule, error) {
	var rules []*ast.Rule

	err := filepath.Walk(s.path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !isRuleFile(path) {
			return nil
		}

		parsed, err := s.parser.Parse(path)
		if err != nil {
			return err
		}
		rules = append(rules, parsed...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rules, nil
}

// Watch watches the configured path for rule file changes. Events are
// debounced so editors that write in bursts trigger a single reload.
// The returned channel is closed when the context is cancelled.
func (s *FileSource) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	if err := watcher.Add(s.path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch path %q: %w", s.path, err)
	}

	eventCh := make(chan Event)

	go func() {
		defer close(eventCh)
		defer watcher.Close()

		var pending *Event
		var timer *time.Timer
		var timerCh <-chan time.Time

		s.logger.Info("rule file watcher started",
			"path", s.path,
			"debounce", s.debounce,
		)

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return

			case fe, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isRuleFile(fe.Name) {
					continue
				}

				event := Event{Path: fe.Name}
				switch {
				case fe.Op.Has(fsnotify.Create):
					event.Type = EventCreated
				case fe.Op.Has(fsnotify.Write):
					event.Type = EventModified
				case fe.Op.Has(fsnotify.Remove), fe.Op.Has(fsnotify.Rename):
					event.Type = EventDeleted
				default:
					continue
				}

				// Debounce: keep only the latest event until the
				// interval elapses without further changes.
				pending = &event
				if timer == nil {
					timer = time.NewTimer(s.debounce)
					timerCh = timer.C
				} else {
					timer.Reset(s.debounce)
				}

			case <-timerCh:
				if pending != nil {
					select {
					case eventCh <- *pending:
					case <-ctx.Done():
						return
					}
					pending = nil
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("rule file watcher error", "error", err)
				select {
				case eventCh <- Event{Err: err}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return eventCh, nil
}

// isRuleFile returns true for YAML rule files.
func isRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
