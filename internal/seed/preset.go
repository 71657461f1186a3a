package seed

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"intouch/internal/models"

	"gopkg.in/yaml.v3"
)

//go:embed presets.yaml
var builtinPresets []byte

// Preset sizes one seeding run.
type Preset struct {
	Name            string `yaml:"name"`
	Users           int    `yaml:"users"`
	FriendsPerUser  int    `yaml:"friends_per_user"`
	PendingInvites  int    `yaml:"pending_invites"`
	Blocks          int    `yaml:"blocks"`
	PrivateChats    int    `yaml:"private_chats"`
	GroupChats      int    `yaml:"group_chats"`
	GroupSize       int    `yaml:"group_size"`
	MessagesPerChat int    `yaml:"messages_per_chat"`
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// ParsePresets decodes a presets document keyed by preset name.
func ParsePresets(data []byte) (map[string]Preset, error) {
	var doc presetFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	out := make(map[string]Preset, len(doc.Presets))
	for _, p := range doc.Presets {
		if p.Name == "" {
			return nil, fmt.Errorf("preset without a name")
		}
		if _, dup := out[p.Name]; dup {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		out[p.Name] = p
	}
	return out, nil
}

// LoadPresets reads presets from path, or the built-in set when path is empty.
func LoadPresets(path string) (map[string]Preset, error) {
	if path == "" {
		return ParsePresets(builtinPresets)
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, err
	}
	return ParsePresets(data)
}

// Names lists preset names in order.
func Names(presets map[string]Preset) []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the relation layout fits the user count. Friends,
// invitations and blocks are laid out at distinct ring offsets, so together
// they must stay below half the ring.
func (p Preset) Validate() error {
	if p.Users < 2 {
		return fmt.Errorf("users must be at least 2")
	}
	if p.FriendsPerUser < 0 || p.PendingInvites < 0 || p.Blocks < 0 ||
		p.PrivateChats < 0 || p.GroupChats < 0 || p.MessagesPerChat < 0 {
		return fmt.Errorf("counts must not be negative")
	}
	if p.FriendsPerUser+p.PendingInvites >= p.Users/2 {
		return fmt.Errorf("friends_per_user + pending_invites must be below users/2")
	}
	if p.Blocks > p.Users {
		return fmt.Errorf("blocks must not exceed users")
	}
	if p.PrivateChats > 0 && p.FriendsPerUser == 0 {
		return fmt.Errorf("private chats need friends")
	}
	if p.GroupChats > 0 {
		if p.GroupSize < models.MinGroupMembers+1 {
			return fmt.Errorf("group_size must be at least %d", models.MinGroupMembers+1)
		}
		if p.GroupSize-1 > 2*p.FriendsPerUser {
			return fmt.Errorf("group_size exceeds the friends a creator has")
		}
	}
	return nil
}
