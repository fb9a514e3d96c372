package extract

import (
	"fmt"
	"os"
	"regexp"

	"github.com/SteelMorgan/license-log-archiver/internal/domain"
	"gopkg.in/yaml.v3"
)

// DefaultPatternVersion identifies the built-in pattern set
const DefaultPatternVersion = "1.0"

// Variant is one tagged line-shape pattern. Patterns use named capture
// groups: ts (required), feature, user, host, duration. Variants are
// tried in declaration order; the first match wins.
type Variant struct {
	Name    string
	Kind    domain.EventKind
	Pattern *regexp.Regexp
}

// PatternSet is the closed, versioned set of supported line shapes.
// The set is an external contract with the upstream log producer and
// must be kept in sync with it.
type PatternSet struct {
	Version  string
	Variants []Variant
}

const tsPrefix = `^(?P<ts>\d{4}[-/]\d{2}[-/]\d{2}[T ]\d{2}:\d{2}:\d{2}(?::\d{3})?)\s+`

// DefaultPatternSet returns the built-in variants for the license
// vendor daemon log format
func DefaultPatternSet() *PatternSet {
	return &PatternSet{
		Version: DefaultPatternVersion,
		Variants: []Variant{
			{
				Name: "checkout",
				Kind: domain.KindCheckout,
				Pattern: regexp.MustCompile(tsPrefix +
					`(?:CHECKOUT|OUT|Grant)\s+feature=(?P<feature>\S+)\s+user=(?P<user>\S+)\s+host=(?P<host>\S+)`),
			},
			{
				Name: "checkin",
				Kind: domain.KindCheckin,
				Pattern: regexp.MustCompile(tsPrefix +
					`(?:CHECKIN|IN|Detachment)\s+feature=(?P<feature>\S+)\s+user=(?P<user>\S+)\s+host=(?P<host>\S+)(?:\s+duration=(?P<duration>\S+))?`),
			},
			{
				Name: "denial",
				Kind: domain.KindDenial,
				Pattern: regexp.MustCompile(tsPrefix +
					`(?:DENIED|DENIAL|not granted)\s+feature=(?P<feature>\S+)\s+user=(?P<user>\S+)\s+host=(?P<host>\S+)`),
			},
			{
				Name: "other",
				Kind: domain.KindOther,
				Pattern: regexp.MustCompile(tsPrefix +
					`(?P<event>\S+)(?:\s+feature=(?P<feature>\S+))?(?:\s+user=(?P<user>\S+))?(?:\s+host=(?P<host>\S+))?`),
			},
		},
	}
}

// patternFile is the YAML schema for an external pattern-set override
type patternFile struct {
	Version  string `yaml:"version"`
	Variants []struct {
		Name    string `yaml:"name"`
		Kind    string `yaml:"kind"`
		Pattern string `yaml:"pattern"`
	} `yaml:"variants"`
}

// LoadPatternSet loads a pattern-set override from a YAML file.
// Used to track upstream line-format changes without a rebuild.
func LoadPatternSet(path string) (*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}

	var pf patternFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse pattern file: %w", err)
	}

	if pf.Version == "" {
		return nil, fmt.Errorf("pattern file missing version")
	}
	if len(pf.Variants) == 0 {
		return nil, fmt.Errorf("pattern file contains no variants")
	}

	ps := &PatternSet{Version: pf.Version}
	for _, v := range pf.Variants {
		kind, err := parseKind(v.Kind)
		if err != nil {
			return nil, fmt.Errorf("variant %q: %w", v.Name, err)
		}
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return nil, fmt.Errorf("variant %q: invalid pattern: %w", v.Name, err)
		}
		ps.Variants = append(ps.Variants, Variant{
			Name:    v.Name,
			Kind:    kind,
			Pattern: re,
		})
	}

	return ps, nil
}

func parseKind(s string) (domain.EventKind, error) {
	switch domain.EventKind(s) {
	case domain.KindCheckout, domain.KindCheckin, domain.KindDenial, domain.KindOther:
		return domain.EventKind(s), nil
	}
	return "", fmt.Errorf("unknown event kind %q", s)
}
