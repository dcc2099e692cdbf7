package evaluation

import (
	"fmt"
	"os"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML document listing additional expression rules.
//
//	rules:
//	  - name: casino_high_value
//	    expression: merchant == "casino" && amount > 2500.0
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

type RuleSpec struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Disabled   bool   `yaml:"disabled"`
}

// LoadRuleFile reads and compiles the rules in path.
func LoadRuleFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("cannot read rules file %s", path), err)
	}
	return ParseRules(data)
}

// ParseRules compiles every enabled rule in a YAML rule document. Names must be unique.
func ParseRules(data []byte) ([]Rule, error) {
	var file RuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, pkg.NewAppError(pkg.ErrConfigCode, "malformed rules file", err)
	}

	seen := make(map[string]struct{}, len(file.Rules))
	rules := make([]Rule, 0, len(file.Rules))
	for _, rs := range file.Rules {
		if rs.Disabled {
			continue
		}
		if _, dup := seen[rs.Name]; dup {
			return nil, pkg.NewAppError(pkg.ErrConfigCode, fmt.Sprintf("duplicate rule %q", rs.Name), nil)
		}
		seen[rs.Name] = struct{}{}

		rule, err := NewCELRule(rs.Name, rs.Expression)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
