// Package route decides whether the widget is mounted on a page.
package route

import (
	"fmt"
	"regexp"
	"strings"
)

// Rules are the allow-list, block-list and standalone list of a deployment.
type Rules struct {
	// Paths are regular expressions matched against the end of the path. An
	// empty list allows every path.
	Paths []string
	// Blacklist holds exact paths the widget never mounts on.
	Blacklist []string
	// Standalone holds exact paths where the widget renders full screen.
	Standalone []string
}

// Visibility is the outcome for one path.
type Visibility struct {
	Visible    bool `json:"visible"`
	Standalone bool `json:"standalone"`
}

// Matcher evaluates compiled Rules.
type Matcher struct {
	allow      []*regexp.Regexp
	blacklist  map[string]struct{}
	standalone map[string]struct{}
}

// Compile validates rules. Patterns are anchored at the end of the path.
func Compile(rules Rules) (*Matcher, error) {
	m := &Matcher{
		blacklist:  make(map[string]struct{}, len(rules.Blacklist)),
		standalone: make(map[string]struct{}, len(rules.Standalone)),
	}
	for _, pattern := range rules.Paths {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?:" + pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", pattern, err)
		}
		m.allow = append(m.allow, re)
	}
	for _, path := range rules.Blacklist {
		m.blacklist[path] = struct{}{}
	}
	for _, path := range rules.Standalone {
		m.standalone[path] = struct{}{}
	}
	return m, nil
}

// Evaluate reports whether the widget shows on path.
func (m *Matcher) Evaluate(path string) Visibility {
	visible := len(m.allow) == 0
	for _, re := range m.allow {
		if re.MatchString(path) {
			visible = true
			break
		}
	}
	if _, blocked := m.blacklist[path]; blocked {
		visible = false
	}
	_, standalone := m.standalone[path]
	return Visibility{Visible: visible, Standalone: standalone}
}
