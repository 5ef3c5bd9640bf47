package types

// TodoInfo is one entry in a session's task list, surfaced to the model
// as "top-of-mind" text by the todo platform extension and to clients as
// a PlanUpdate session/update.
type TodoInfo struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Status   string `json:"status"` // "pending" | "in_progress" | "completed"
	Priority string `json:"priority,omitempty"`
}
