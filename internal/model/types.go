package model

type User struct {
	ID           string
	TelegramID   *string
	Username     string
	PasswordHash *string
	CreatedAt    int64
}

type Session struct {
	ID                string
	Namespace         string
	Tag               string
	MachineID         *string
	Seq               int64
	Metadata          string
	MetadataVersion   int
	AgentState        *string
	AgentStateVersion int
	Todos             *string
	TodosUpdatedAt    int64
	Active            bool
	ActiveAt          int64
	CreatedAt         int64
	UpdatedAt         int64
}

type Message struct {
	ID        string
	SessionID string
	Seq       int64
	Content   string
	CreatedAt int64
}

type Machine struct {
	ID                 string
	Namespace          string
	Metadata           string
	MetadataVersion    int
	DaemonState        *string
	DaemonStateVersion int
	Active             bool
	ActiveAt           int64
	Seq                int64
	CreatedAt          int64
	UpdatedAt          int64
}

type CliToken struct {
	ID        string
	UserID    string
	TokenHash string
	Name      *string
	CreatedAt int64
	Revoked   bool
}

type AuthRequest struct {
	ID                string
	PublicKey         string
	SupportsV2        bool
	Response          string
	ResponseAccountID string
	Token             string
	CreatedAt         int64
	UpdatedAt         int64
}
