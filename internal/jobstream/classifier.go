package jobstream

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is the semantic bucket a progress message falls into
type Category string

const (
	CategoryScan    Category = "scan"
	CategoryContext Category = "context"
	CategoryLLM     Category = "llm"
	CategoryResult  Category = "result"
	CategoryMerge   Category = "merge"
	CategoryDone    Category = "done"
	CategoryError   Category = "error"
	CategoryInfo    Category = "info"
)

// Rule maps any of its keywords (case-insensitive substring match) to a
// category. Rules are evaluated in order; the first match wins.
type Rule struct {
	Category Category `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// DefaultRules returns the built-in classification rules. Failure keywords
// are checked ahead of the progress keywords so that a message like
// "Scan failed: timeout" lands in the error category rather than scan.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryError, Keywords: []string{"failed", "error", "skipped"}},
		{Category: CategoryScan, Keywords: []string{"scanning", "scan"}},
		{Category: CategoryContext, Keywords: []string{"context gathered", "context"}},
		{Category: CategoryLLM, Keywords: []string{"sending", "llm", "analysis", "calling llm"}},
		{Category: CategoryResult, Keywords: []string{"identified", "discovered"}},
		{Category: CategoryMerge, Keywords: []string{"merging", "merge", "creating"}},
		{Category: CategoryDone, Keywords: []string{"complete", "discovery complete"}},
	}
}

// Classifier assigns categories to raw progress messages
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier with the built-in rules
func NewClassifier() *Classifier {
	return &Classifier{rules: DefaultRules()}
}

// NewClassifierWithRules creates a classifier with a custom ordered rule set
func NewClassifierWithRules(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Rules returns the ordered rule set the classifier evaluates
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify returns the category of the first matching rule, or CategoryInfo
// when no rule matches.
func (c *Classifier) Classify(message string) Category {
	lower := strings.ToLower(message)
	for _, rule := range c.rules {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lower, keyword) {
				return rule.Category
			}
		}
	}
	return CategoryInfo
}

// LoadRules reads an ordered rule set from a YAML file. Used to override
// the built-in rules from configuration.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	for i, rule := range rules {
		if rule.Category == "" {
			return nil, fmt.Errorf("rule %d has no category", i)
		}
		if len(rule.Keywords) == 0 {
			return nil, fmt.Errorf("rule %d (%s) has no keywords", i, rule.Category)
		}
	}
	return rules, nil
}
