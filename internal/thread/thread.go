// Package thread provides conversation threads and their persistence.
package thread

import (
	"time"

	"github.com/google/uuid"
)

// Role tags a turn in a thread's history.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Outcome classifies the result of a dispatched action call.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeToolError Outcome = "tool_error"
	OutcomeNotFound  Outcome = "not_found"
	// OutcomeDeclined records an operator denial of a gated call. The call
	// was never executed; the turn exists so the denial stays auditable.
	OutcomeDeclined Outcome = "declined"
)

// ActionCall is a proposed invocation of a named action. It is produced by
// the reasoning collaborator and never mutated after creation.
type ActionCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ActionResult is the normalized output of dispatching one action call.
type ActionResult struct {
	CallID  string  `json:"call_id"`
	Name    string  `json:"name,omitempty"`
	Outcome Outcome `json:"outcome"`
	Payload string  `json:"payload"`
}

// Turn is a single role-tagged unit in a thread's history.
//
// Assistant turns carry zero or more proposed action calls. A tool turn
// consumes exactly one prior call id and records its outcome.
type Turn struct {
	Role      Role         `json:"role"`
	Content   string       `json:"content,omitempty"`
	Calls     []ActionCall `json:"calls,omitempty"`
	CallID    string       `json:"call_id,omitempty"`
	Outcome   Outcome      `json:"outcome,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// UserTurn builds a user turn.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Content: text, Timestamp: time.Now().UTC()}
}

// AssistantTurn builds an assistant turn with optional proposed calls.
func AssistantTurn(text string, calls []ActionCall) Turn {
	return Turn{Role: RoleAssistant, Content: text, Calls: calls, Timestamp: time.Now().UTC()}
}

// ResultTurn converts an action result into a tool turn.
func ResultTurn(res ActionResult) Turn {
	return Turn{
		Role:      RoleTool,
		Content:   res.Payload,
		CallID:    res.CallID,
		Outcome:   res.Outcome,
		Timestamp: time.Now().UTC(),
	}
}

// Thread owns the ordered turn history for one conversation.
type Thread struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty thread. An empty id is replaced with a generated one.
func New(id string) *Thread {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Thread{ID: id, CreatedAt: now, UpdatedAt: now}
}

// Append adds turns to the history.
func (t *Thread) Append(turns ...Turn) {
	t.Turns = append(t.Turns, turns...)
	t.UpdatedAt = time.Now().UTC()
}

// LastUser returns the content of the most recent user turn.
func (t *Thread) LastUser() string {
	for i := len(t.Turns) - 1; i >= 0; i-- {
		if t.Turns[i].Role == RoleUser {
			return t.Turns[i].Content
		}
	}
	return ""
}

// ToolTurnsSinceLastUser counts tool turns appended after the latest user turn.
func (t *Thread) ToolTurnsSinceLastUser() int {
	n := 0
	for i := len(t.Turns) - 1; i >= 0; i-- {
		switch t.Turns[i].Role {
		case RoleUser:
			return n
		case RoleTool:
			n++
		}
	}
	return n
}

// HasResult reports whether a tool turn already consumed the given call id.
// Call ids are consumed at most once.
func (t *Thread) HasResult(callID string) bool {
	for i := range t.Turns {
		if t.Turns[i].Role == RoleTool && t.Turns[i].CallID == callID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The engine mutates only copies until a cycle
// commits, so a failed cycle leaves stored history untouched.
func (t *Thread) Clone() *Thread {
	out := &Thread{
		ID:        t.ID,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	if t.Turns != nil {
		out.Turns = make([]Turn, len(t.Turns))
		for i := range t.Turns {
			out.Turns[i] = CloneTurn(t.Turns[i])
		}
	}
	return out
}

// CloneTurn returns a deep copy of a turn.
func CloneTurn(in Turn) Turn {
	out := in
	if in.Calls != nil {
		out.Calls = CloneCalls(in.Calls)
	}
	return out
}

// CloneCalls returns a deep copy of a call slice.
func CloneCalls(in []ActionCall) []ActionCall {
	out := make([]ActionCall, len(in))
	for i := range in {
		out[i] = CloneCall(in[i])
	}
	return out
}

// CloneCall returns a deep copy of a single call.
func CloneCall(in ActionCall) ActionCall {
	out := in
	if in.Arguments != nil {
		out.Arguments = make(map[string]any, len(in.Arguments))
		for k, v := range in.Arguments {
			out.Arguments[k] = v
		}
	}
	return out
}
