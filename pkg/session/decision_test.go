package session

import (
	"testing"

	"github.com/harun/tether/pkg/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name      string
		decisions []Decision
		pending   int
		want      []agent.DecisionRecord
		wantErr   error
	}{
		{
			name:      "single approve replicated",
			decisions: []Decision{Approve()},
			pending:   3,
			want: []agent.DecisionRecord{
				{Type: agent.DecisionApprove},
				{Type: agent.DecisionApprove},
				{Type: agent.DecisionApprove},
			},
		},
		{
			name:      "single reject replicated with rationale",
			decisions: []Decision{Reject("not now")},
			pending:   2,
			want: []agent.DecisionRecord{
				{Type: agent.DecisionReject, Message: "Rejected. Human feedback: not now"},
				{Type: agent.DecisionReject, Message: "Rejected. Human feedback: not now"},
			},
		},
		{
			name:      "pairwise",
			decisions: []Decision{Approve(), Reject("no")},
			pending:   2,
			want: []agent.DecisionRecord{
				{Type: agent.DecisionApprove},
				{Type: agent.DecisionReject, Message: "Rejected. Human feedback: no"},
			},
		},
		{
			name:      "edit passes through",
			decisions: []Decision{Edit("write_file", map[string]interface{}{"file_path": "/b.txt"})},
			pending:   1,
			want: []agent.DecisionRecord{
				{Type: agent.DecisionEdit, EditedAction: &agent.EditedAction{
					Name: "write_file",
					Args: map[string]interface{}{"file_path": "/b.txt"},
				}},
			},
		},
		{
			name:      "count mismatch",
			decisions: []Decision{Approve(), Approve()},
			pending:   3,
			wantErr:   ErrDecisionCount,
		},
		{
			name:      "no decisions",
			decisions: nil,
			pending:   1,
			wantErr:   ErrDecisionCount,
		},
		{
			name:      "nothing pending",
			decisions: []Decision{Approve()},
			pending:   0,
			wantErr:   ErrNotInterrupted,
		},
		{
			name:      "unknown kind",
			decisions: []Decision{{Kind: "maybe"}},
			pending:   1,
			wantErr:   ErrUnknownDecision,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := Translate(tt.decisions, tt.pending)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, payload.Decisions)
		})
	}
}

func TestParseDecisionKind(t *testing.T) {
	for _, s := range []string{"approve", "edit", "reject"} {
		kind, err := ParseDecisionKind(s)
		require.NoError(t, err)
		assert.Equal(t, DecisionKind(s), kind)
	}

	_, err := ParseDecisionKind("approval")
	assert.ErrorIs(t, err, ErrUnknownDecision)
}

func TestParseBusyPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    BusyPolicy
		wantErr bool
	}{
		{"", BusyReject, false},
		{"reject", BusyReject, false},
		{" ERROR ", BusyError, false},
		{"queue", "", true},
	}
	for _, tt := range tests {
		got, err := ParseBusyPolicy(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidInput)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
