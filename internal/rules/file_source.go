package rules

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/metricwatch/internal/model"
)

// rulePack is the on-disk layout of a YAML rule file
type rulePack struct {
	Rules []model.AlertRule `yaml:"rules"`
}

// FileSource loads rules from a YAML rule pack. The file is re-read on every
// load so edits are picked up by the next refresh.
type FileSource struct {
	path string
}

// NewFileSource creates a rule source reading the YAML file at path
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// LoadEnabledRules implements Source
func (s *FileSource) LoadEnabledRules(ctx context.Context, orgFilter string) ([]model.AlertRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack: %w", err)
	}

	var pack rulePack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", s.path, err)
	}

	rules := make([]model.AlertRule, 0, len(pack.Rules))
	for _, rule := range pack.Rules {
		if !rule.Enabled {
			continue
		}
		if orgFilter != "" && rule.OrganizationID != orgFilter {
			continue
		}
		if rule.ID == "" {
			rule.ID = derivedID(rule)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// derivedID gives id-less rules a stable identity across reloads so their
// cooldown state survives a refresh.
func derivedID(rule model.AlertRule) string {
	name := rule.OrganizationID + "|" + rule.MetricName + "|" + string(rule.Condition) + "|" +
		strconv.FormatFloat(rule.Threshold, 'g', -1, 64)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
