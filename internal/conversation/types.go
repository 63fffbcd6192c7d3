package conversation

import "fmt"

// Role identifies the speaker of a turn slot.
type Role int

const (
	RoleUser Role = iota
	RoleAgent
	RoleSystem
)

// String returns the role as it appears in column headers and context lines.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "User"
	case RoleAgent:
		return "Agent"
	case RoleSystem:
		return "System"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole maps a header role label to a Role.
func ParseRole(s string) (Role, bool) {
	switch s {
	case "User":
		return RoleUser, true
	case "Agent":
		return RoleAgent, true
	case "System":
		return RoleSystem, true
	}
	return 0, false
}

// Turn is one non-empty utterance slot of a conversation.
type Turn struct {
	Index  int
	Role   Role
	Column string
	Text   string
}

// Row is one conversation with its turns in (index, role) order and the
// untouched source values of every column.
type Row struct {
	ID     string
	Turns  []Turn
	Source []string
}

// Unit is a single selected turn with the dialogue that leads up to it.
type Unit struct {
	ConversationID string
	TurnIndex      int
	Role           Role
	Column         string
	Text           string
	Context        []string
	PrecedingUser  string
	Source         []string
}

// ContextMode decides whether the selected turn's own index is part of its
// context.
type ContextMode int

const (
	// ContextBefore keeps utterances with index < t.
	ContextBefore ContextMode = iota
	// ContextThrough keeps utterances with index <= t, including the selected one.
	ContextThrough
)

// ParseContextMode accepts "before" or "through".
func ParseContextMode(s string) (ContextMode, error) {
	switch s {
	case "before":
		return ContextBefore, nil
	case "through":
		return ContextThrough, nil
	}
	return 0, fmt.Errorf("unknown context mode %q (want before or through)", s)
}

func (m ContextMode) String() string {
	if m == ContextThrough {
		return "through"
	}
	return "before"
}

// Selector picks the turns that become annotation units.
type Selector func(Turn) bool

// SelectRoles selects turns spoken by any of roles.
func SelectRoles(roles ...Role) Selector {
	return func(t Turn) bool {
		for _, r := range roles {
			if t.Role == r {
				return true
			}
		}
		return false
	}
}

var (
	// AgentTurns selects model responses, labelled Agent or System.
	AgentTurns = SelectRoles(RoleAgent, RoleSystem)
	// UserTurns selects human turns.
	UserTurns = SelectRoles(RoleUser)
)

// ParseSelector accepts "agent" or "user".
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "agent", "system":
		return AgentTurns, nil
	case "user":
		return UserTurns, nil
	}
	return nil, fmt.Errorf("unknown turn selector %q (want agent or user)", s)
}
