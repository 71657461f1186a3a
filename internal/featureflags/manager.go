// Package featureflags gates optional chat behaviour per user.
package featureflags

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
)

// Known flags.
const (
	TypingIndicators  = "typing_indicators"
	MembershipNotices = "membership_notices"
)

// defaults apply to known flags the configuration leaves out.
var defaults = map[string]Rule{
	TypingIndicators:  {Percent: 100},
	MembershipNotices: {Percent: 100},
}

// Rule enables a flag for a deterministic share of users. 0 is off for
// everyone, 100 is on for everyone.
type Rule struct {
	Percent int `json:"percent"`
}

func (r Rule) String() string {
	switch r.Percent {
	case 0:
		return "off"
	case 100:
		return "on"
	}
	return strconv.Itoa(r.Percent) + "%"
}

// State is one flag as reported to a client.
type State struct {
	Name    string `json:"name"`
	Rule    string `json:"rule"`
	Enabled bool   `json:"enabled"`
}

// Manager evaluates flags parsed from FEATURE_FLAGS,
// e.g. "typing_indicators=on,membership_notices=25%".
type Manager struct {
	rules map[string]Rule
}

// Parse reads a comma-separated name=value list. Values are on/true/1,
// off/false/0 or a rollout percentage such as 25%. Malformed entries are
// reported together; the returned manager still carries the valid ones.
func Parse(raw string) (*Manager, error) {
	rules := make(map[string]Rule, len(defaults))
	for name, rule := range defaults {
		rules[name] = rule
	}

	var bad []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		name = normalize(name)
		rule, valid := parseRule(normalize(value))
		if !ok || name == "" || !valid {
			bad = append(bad, entry)
			continue
		}
		rules[name] = rule
	}

	m := &Manager{rules: rules}
	if len(bad) > 0 {
		return m, fmt.Errorf("invalid feature flag entries: %s", strings.Join(bad, ", "))
	}
	return m, nil
}

// NewManager is Parse without the error; malformed entries are skipped.
func NewManager(raw string) *Manager {
	m, _ := Parse(raw)
	return m
}

func parseRule(value string) (Rule, bool) {
	switch value {
	case "on", "true", "1":
		return Rule{Percent: 100}, true
	case "off", "false", "0":
		return Rule{Percent: 0}, true
	}
	pct, ok := strings.CutSuffix(value, "%")
	if !ok {
		return Rule{}, false
	}
	n, err := strconv.Atoi(pct)
	if err != nil || n < 0 || n > 100 {
		return Rule{}, false
	}
	return Rule{Percent: n}, true
}

// Enabled reports whether name is on for userID. A nil manager enables
// nothing; partial rollouts need a user id.
func (m *Manager) Enabled(name, userID string) bool {
	if m == nil {
		return false
	}
	rule, ok := m.rules[normalize(name)]
	if !ok {
		return false
	}
	switch {
	case rule.Percent <= 0:
		return false
	case rule.Percent >= 100:
		return true
	case userID == "":
		return false
	}
	return rolloutBucket(name, userID) < rule.Percent
}

// Snapshot evaluates every flag for userID, sorted by name.
func (m *Manager) Snapshot(userID string) []State {
	if m == nil {
		return []State{}
	}
	out := make([]State, 0, len(m.rules))
	for name, rule := range m.rules {
		out = append(out, State{Name: name, Rule: rule.String(), Enabled: m.Enabled(name, userID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func rolloutBucket(name, userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize(name) + ":" + userID))
	return int(h.Sum32() % 100)
}
