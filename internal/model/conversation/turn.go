package conversation

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of a session's conversation ledger.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Ordinal int    `json:"ordinal"`
}
