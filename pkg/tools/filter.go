package tools

// FilterResult holds the outcome of filtering tool calls against an
// allow list.
type FilterResult struct {
	Allowed []ToolCall

	// Rejected holds error results for calls outside the allow list.
	Rejected []ToolResult
}

// FilterAllowedTools splits calls into allowed and rejected. An empty
// allow list permits everything.
func FilterAllowedTools(calls []ToolCall, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: calls}
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var result FilterResult
	for _, call := range calls {
		if allowed[call.Name] {
			result.Allowed = append(result.Allowed, call)
			continue
		}
		result.Rejected = append(result.Rejected, ToolResult{
			CallID:  call.ID,
			Output:  "tool " + call.Name + " is not enabled on this server",
			IsError: true,
		})
	}
	return result
}
