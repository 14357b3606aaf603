package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
)

// RulesFile is the on-disk shape of the default rule set
type RulesFile struct {
	Rules          []RuleEntry `yaml:"rules"`
	SensitiveWords []string    `yaml:"sensitive_words"`
}

// RuleEntry is one rule in the YAML file. Enabled defaults to true and
// priority to 1 when omitted.
type RuleEntry struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Type        string `yaml:"filter_type"`
	Pattern     string `yaml:"pattern"`
	Action      string `yaml:"action"`
	RiskLevel   string `yaml:"risk_level"`
	Replacement string `yaml:"replacement"`
	Enabled     *bool  `yaml:"enabled"`
	Priority    int    `yaml:"priority"`
	Description string `yaml:"description"`
}

// DefaultRuleSet is what gets seeded into an empty rule store
type DefaultRuleSet struct {
	Rules          []*domain.FilterRule
	SensitiveWords []string
	// Source is the file the set came from, empty for the built-in set
	Source string
}

// LoadDefaultRules reads the default rule set from YAML. With an empty path
// the usual locations are tried; when no file exists the built-in rules are used.
func LoadDefaultRules(path string, logger *zap.Logger) (*DefaultRuleSet, error) {
	paths := []string{path}
	if path == "" {
		paths = []string{
			"configs/rules.yaml",
			"/etc/danmaku-bridge/rules.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "rules.yaml"))
		}
	}

	var (
		data       []byte
		loadedPath string
	)
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
		if path != "" {
			return nil, fmt.Errorf("failed to read rules file: %w", err)
		}
	}

	if data == nil {
		logger.Info("no rules.yaml found, using built-in rules")
		return &DefaultRuleSet{Rules: usecase.DefaultRules()}, nil
	}

	set, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}
	set.Source = loadedPath
	logger.Info("loaded default rules", zap.String("path", loadedPath), zap.Int("rules", len(set.Rules)))
	return set, nil
}

// ParseRules decodes and validates a YAML rule set
func ParseRules(data []byte) (*DefaultRuleSet, error) {
	var file RulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	set := &DefaultRuleSet{SensitiveWords: file.SensitiveWords}
	seen := make(map[string]bool, len(file.Rules))
	for i, e := range file.Rules {
		rule := e.toRule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("rule %d: duplicate id %q", i, rule.ID)
		}
		seen[rule.ID] = true
		set.Rules = append(set.Rules, rule)
	}
	return set, nil
}

func (e RuleEntry) toRule() *domain.FilterRule {
	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}
	priority := e.Priority
	if priority == 0 {
		priority = 1
	}
	name := e.Name
	if name == "" {
		name = e.ID
	}
	return &domain.FilterRule{
		ID:          e.ID,
		Name:        name,
		Type:        domain.FilterType(e.Type),
		Pattern:     e.Pattern,
		Action:      domain.FilterAction(e.Action),
		RiskLevel:   domain.RiskLevel(e.RiskLevel),
		Replacement: e.Replacement,
		Enabled:     enabled,
		Priority:    priority,
		Description: e.Description,
	}
}
