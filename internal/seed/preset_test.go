package seed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPresets_Builtin(t *testing.T) {
	presets, err := LoadPresets("")
	require.NoError(t, err)
	assert.Equal(t, []string{"demo", "minimal", "populated"}, Names(presets))
	assert.Equal(t, 8, presets["minimal"].Users)
}

func TestParsePresets_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"malformed", "presets: [", "parse presets"},
		{"unnamed", "presets:\n  - users: 4\n", "without a name"},
		{"duplicate", "presets:\n  - {name: a, users: 4}\n  - {name: a, users: 4}\n", "duplicate"},
		{"too few users", "presets:\n  - {name: a, users: 1}\n", "at least 2"},
		{"ring too dense", "presets:\n  - {name: a, users: 6, friends_per_user: 2, pending_invites: 1}\n", "below users/2"},
		{"chats without friends", "presets:\n  - {name: a, users: 6, private_chats: 1}\n", "need friends"},
		{"group too large", "presets:\n  - {name: a, users: 10, friends_per_user: 1, group_chats: 1, group_size: 4}\n", "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePresets([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadPresets_MissingFile(t *testing.T) {
	_, err := LoadPresets("/nonexistent/presets.yaml")
	assert.Error(t, err)
}
