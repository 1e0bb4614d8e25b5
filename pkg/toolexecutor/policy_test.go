package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolPolicy_IsToolAllowed(t *testing.T) {
	tests := []struct {
		name    string
		policy  *ToolPolicy
		tool    string
		allowed bool
	}{
		{"nil policy", nil, "write_file", true},
		{"empty policy", &ToolPolicy{}, "write_file", true},
		{"explicit allow", &ToolPolicy{Allow: []string{"ls"}}, "ls", true},
		{"not in allow list", &ToolPolicy{Allow: []string{"ls"}}, "write_file", false},
		{"wildcard allow", &ToolPolicy{Allow: []string{"*"}}, "grep", true},
		{"deny overrides allow", &ToolPolicy{Allow: []string{"*"}, Deny: []string{"write_file"}}, "write_file", false},
		{"wildcard deny", &ToolPolicy{Deny: []string{"*"}}, "ls", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.policy.IsToolAllowed(tt.tool))
		})
	}
}
