package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"libimport/internal/util"
)

const fallbackCategory = "General"

// CategoryRule maps a file-name substring to a category. Rules are checked in order; the first hit wins.
type CategoryRule struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
}

// DefaultCategoryRules follows the naming used by the college register exports.
// Order is precedence: a name matching several patterns takes the first ("BOTANY-CS" is Botany).
var DefaultCategoryRules = []CategoryRule{
	{Pattern: "FGPG-College-Cupboard-28", Category: "Physics"},
	{Pattern: "FGPG-College-Cupboard-29", Category: "Physics"},
	{Pattern: "FGPG-College-Register-2", Category: "Economics"},
	{Pattern: "FGPG-College-Economics", Category: "Economics"},
	{Pattern: "FGPG-College-Register-3", Category: "Botany"},
	{Pattern: "PSYCHOLOGY", Category: "Psychology"},
	{Pattern: "BOTANY", Category: "Botany"},
	{Pattern: "CS", Category: "Computer Science"},
	{Pattern: "Chemistry", Category: "Chemistry"},
}

type Classifier struct {
	rules []CategoryRule
}

func NewClassifier(rules []CategoryRule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify never fails: an unmatched name falls back to its letters, then to "General".
func (c *Classifier) Classify(fileName string) string {
	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	for _, rule := range c.rules {
		if rule.Pattern != "" && strings.Contains(base, rule.Pattern) {
			return rule.Category
		}
	}
	if guess := util.LettersOnly(base); guess != "" {
		return guess
	}
	return fallbackCategory
}

type categoryRulesFile struct {
	Rules []CategoryRule `yaml:"rules"`
}

// LoadCategoryRules reads an ordered rule table from YAML:
//
//	rules:
//	  - pattern: FGPG-College-Cupboard-28
//	    category: Physics
func LoadCategoryRules(path string) ([]CategoryRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file categoryRulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse category rules %s: %w", path, err)
	}
	for i, rule := range file.Rules {
		if strings.TrimSpace(rule.Pattern) == "" || strings.TrimSpace(rule.Category) == "" {
			return nil, fmt.Errorf("category rule %d in %s: pattern and category are required", i+1, path)
		}
	}
	return file.Rules, nil
}

// ClassifierFromFile uses the built-in table when path is empty.
func ClassifierFromFile(path string) (*Classifier, error) {
	if strings.TrimSpace(path) == "" {
		return NewClassifier(DefaultCategoryRules), nil
	}
	rules, err := LoadCategoryRules(path)
	if err != nil {
		return nil, err
	}
	return NewClassifier(rules), nil
}
