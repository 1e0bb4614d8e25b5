package toolexecutor

// ToolPolicy defines which tools the engine may execute.
type ToolPolicy struct {
	Allow []string `json:"allow"` // List of allowed tools (* for all)
	Deny  []string `json:"deny"`  // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy.
// A nil policy or an empty allow list allows everything not denied.
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}
	return false
}
