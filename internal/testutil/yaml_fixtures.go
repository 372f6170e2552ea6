package testutil

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ClaimsFixture is one table-driven test case: the claims to embed in a
// synthetic token and the event type expected back from validation, read
// from a YAML document rather than hand-written Go struct literals, the
// way larger fixture sets are kept readable.
type ClaimsFixture struct {
	Name          string                 `yaml:"name"`
	Claims        map[string]interface{} `yaml:"claims"`
	ExpectSuccess bool                   `yaml:"expectSuccess"`
	ExpectedEvent string                 `yaml:"expectedEvent"`
}

// LoadClaimsFixtures parses a YAML document containing a top-level "cases"
// sequence of ClaimsFixture entries.
func LoadClaimsFixtures(data []byte) ([]ClaimsFixture, error) {
	var doc struct {
		Cases []ClaimsFixture `yaml:"cases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing claims fixtures: %w", err)
	}
	return doc.Cases, nil
}
