package session

import (
	"fmt"

	"github.com/harun/tether/pkg/agent"
)

// DecisionKind is the caller's resolution of a pending action request.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionEdit    DecisionKind = "edit"
	DecisionReject  DecisionKind = "reject"
)

// RejectPrefix leads every rejection rationale written back to the model.
const RejectPrefix = "Rejected. Human feedback: "

// ParseDecisionKind validates a decision kind string.
func ParseDecisionKind(s string) (DecisionKind, error) {
	switch k := DecisionKind(s); k {
	case DecisionApprove, DecisionEdit, DecisionReject:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDecision, s)
	}
}

// Decision resolves one pending action request, or all of them when it is
// the only decision supplied.
type Decision struct {
	Kind DecisionKind
	// Feedback is the human's reason for a rejection.
	Feedback string
	// EditedName and EditedArgs replace the gated call for an edit.
	EditedName string
	EditedArgs map[string]interface{}
}

func Approve() Decision {
	return Decision{Kind: DecisionApprove}
}

func Reject(feedback string) Decision {
	return Decision{Kind: DecisionReject, Feedback: feedback}
}

func Edit(name string, args map[string]interface{}) Decision {
	return Decision{Kind: DecisionEdit, EditedName: name, EditedArgs: args}
}

// Translate builds the engine resume payload for pendingCount requests. A
// single decision is replicated to every request; otherwise the counts must
// match and decisions apply pairwise.
func Translate(decisions []Decision, pendingCount int) (agent.ResumePayload, error) {
	if pendingCount <= 0 {
		return agent.ResumePayload{}, ErrNotInterrupted
	}

	switch len(decisions) {
	case 1:
		if pendingCount > 1 {
			replicated := make([]Decision, pendingCount)
			for i := range replicated {
				replicated[i] = decisions[0]
			}
			decisions = replicated
		}
	case pendingCount:
	default:
		return agent.ResumePayload{}, fmt.Errorf("%w: got %d for %d pending", ErrDecisionCount, len(decisions), pendingCount)
	}

	records := make([]agent.DecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		record, err := d.record()
		if err != nil {
			return agent.ResumePayload{}, err
		}
		records = append(records, record)
	}
	return agent.ResumePayload{Decisions: records}, nil
}

func (d Decision) record() (agent.DecisionRecord, error) {
	switch d.Kind {
	case DecisionApprove:
		return agent.DecisionRecord{Type: agent.DecisionApprove}, nil
	case DecisionReject:
		return agent.DecisionRecord{Type: agent.DecisionReject, Message: RejectPrefix + d.Feedback}, nil
	case DecisionEdit:
		return agent.DecisionRecord{
			Type:         agent.DecisionEdit,
			EditedAction: &agent.EditedAction{Name: d.EditedName, Args: d.EditedArgs},
		}, nil
	default:
		return agent.DecisionRecord{}, fmt.Errorf("%w: %q", ErrUnknownDecision, d.Kind)
	}
}
