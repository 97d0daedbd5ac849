package leadguard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/oarkflow/log"
)

// SignatureRule is one spam signature loaded from a JSON rule file.
type SignatureRule struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Enabled bool   `json:"enabled"`
}

type compiledSignature struct {
	name string
	re   *regexp.Regexp
}

// SignatureSet holds the compiled spam signatures the content check scans
// against. Safe for concurrent use; Load replaces the whole set atomically.
type SignatureSet struct {
	mu       sync.RWMutex
	compiled []compiledSignature
}

// Built-in signatures: solicitation keywords, bare URLs, excessive all-caps
// runs. Rule files extend or replace these.
var builtinSignatures = []SignatureRule{
	{Name: "solicitation_keywords", Pattern: `(?i)\b(viagra|casino|lottery|winner|congratulations)\b`, Enabled: true},
	{Name: "solicitation_phrases", Pattern: `(?i)\b(click here|free money|make money)\b`, Enabled: true},
	{Name: "bare_url", Pattern: `https?://`, Enabled: true},
	{Name: "caps_run", Pattern: `[A-Z]{10,}`, Enabled: true},
}

// DefaultSignatures returns a set preloaded with the built-in rules.
func DefaultSignatures() *SignatureSet {
	set := &SignatureSet{}
	set.replace(builtinSignatures)
	return set
}

// Match scans text against every enabled signature and returns the name of
// the first match.
func (s *SignatureSet) Match(text string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sig := range s.compiled {
		if sig.re.MatchString(text) {
			return sig.name, true
		}
	}
	return "", false
}

// Rules returns the names of the currently loaded signatures.
func (s *SignatureSet) Rules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.compiled))
	for _, sig := range s.compiled {
		names = append(names, sig.name)
	}
	return names
}

// Load reads every *.json rule file in dir and replaces the current set with
// the built-ins plus the loaded rules. A rule with the same name as a
// built-in overrides it; a disabled rule removes it.
func (s *SignatureSet) Load(dir string) error {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read signature rules directory: %w", err)
	}

	merged := make(map[string]SignatureRule, len(builtinSignatures))
	order := make([]string, 0, len(builtinSignatures))
	for _, rule := range builtinSignatures {
		merged[rule.Name] = rule
		order = append(order, rule.Name)
	}

	for _, file := range files {
		if !strings.HasSuffix(file.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return fmt.Errorf("read signature rule file %s: %w", file.Name(), err)
		}
		var rule SignatureRule
		if err := json.Unmarshal(data, &rule); err != nil {
			return fmt.Errorf("parse signature rule file %s: %w", file.Name(), err)
		}
		if rule.Name == "" || rule.Pattern == "" {
			return fmt.Errorf("signature rule file %s is missing name or pattern", file.Name())
		}
		if _, seen := merged[rule.Name]; !seen {
			order = append(order, rule.Name)
		}
		merged[rule.Name] = rule
	}

	rules := make([]SignatureRule, 0, len(order))
	for _, name := range order {
		rules = append(rules, merged[name])
	}
	return s.replaceChecked(rules)
}

// Watch reloads the set whenever a rule file in dir changes. Blocks until
// ctx is done. A bad rule file keeps the previous set in place.
func (s *SignatureSet) Watch(ctx context.Context, dir string, logger *log.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create signature watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch signature rules directory: %w", err)
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Remove) {
				continue
			}
			if err := s.Load(dir); err != nil {
				if logger != nil {
					logger.Error().Err(err).Str("dir", dir).Msg("signature reload failed, keeping previous set")
				}
				continue
			}
			if logger != nil {
				logger.Info().Str("dir", dir).Int("rules", len(s.Rules())).Msg("signatures reloaded")
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if logger != nil {
				logger.Error().Err(watchErr).Msg("signature watcher error")
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *SignatureSet) replace(rules []SignatureRule) {
	_ = s.replaceChecked(rules)
}

func (s *SignatureSet) replaceChecked(rules []SignatureRule) error {
	compiled := make([]compiledSignature, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return fmt.Errorf("compile signature %s: %w", rule.Name, err)
		}
		compiled = append(compiled, compiledSignature{name: rule.Name, re: re})
	}
	s.mu.Lock()
	s.compiled = compiled
	s.mu.Unlock()
	return nil
}
