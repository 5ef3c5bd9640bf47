package permission

// BashPolicy is the bash-pattern and external-directory policy a Gate
// enforces, parsed from configuration at startup. A zero-value BashPolicy
// leaves bash pattern matching disabled (Gate falls through to the
// session Mode for every tool, including bash).
type BashPolicy struct {
	Patterns    map[string]PermissionAction
	ExternalDir PermissionAction
}

// ParseAction normalizes a config string ("allow", "deny", "ask", or
// empty) into a PermissionAction, defaulting to ask for anything it
// doesn't recognize so an unfamiliar config value fails closed rather
// than silently allowing.
func ParseAction(s string) PermissionAction {
	switch PermissionAction(s) {
	case ActionAllow, ActionDeny, ActionAsk:
		return PermissionAction(s)
	default:
		return ActionAsk
	}
}

// ParseBashPatterns converts the config-file shape of a bash policy (a
// bare action string applied to every command, or a pattern->action map)
// into the pattern table MatchBashPermission expects.
func ParseBashPatterns(raw any) map[string]PermissionAction {
	switch v := raw.(type) {
	case string:
		return map[string]PermissionAction{"*": ParseAction(v)}
	case map[string]any:
		patterns := make(map[string]PermissionAction, len(v))
		for pattern, action := range v {
			if s, ok := action.(string); ok {
				patterns[pattern] = ParseAction(s)
			}
		}
		return patterns
	case map[string]string:
		patterns := make(map[string]PermissionAction, len(v))
		for pattern, action := range v {
			patterns[pattern] = ParseAction(action)
		}
		return patterns
	default:
		return nil
	}
}
