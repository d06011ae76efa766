package waf

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ruleFile is the on-disk shape of a rules file.
type ruleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// LoadEngine builds an Engine from a YAML rules file at path. An empty
// path yields an engine built from DefaultRules. Decoding is strict: an
// unknown field in the rules file is a load-time error, not a silently
// ignored one.
func LoadEngine(path string) (*Engine, error) {
	if path == "" {
		return NewEngine(DefaultRules)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("waf: open rules file: %w", err)
	}
	defer f.Close()

	var rf ruleFile
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&rf); err != nil {
		return nil, fmt.Errorf("waf: decode rules file: %w", err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("waf: rules file %s defines no rules", path)
	}
	return NewEngine(rf.Rules)
}
