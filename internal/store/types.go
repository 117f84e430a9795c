package store

// SessionStatus is the status of the Session entity (distinct from the
// richer Sandbox status machine in package lifecycle).
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// ParticipantRole is a participant's role within a session.
type ParticipantRole string

const (
	RoleOwner  ParticipantRole = "owner"
	RoleMember ParticipantRole = "member"
)

// MessageSource identifies where a prompt originated.
type MessageSource string

const (
	SourceWeb       MessageSource = "web"
	SourceSlack     MessageSource = "slack"
	SourceExtension MessageSource = "extension"
	SourceGithub    MessageSource = "github"
)

// MessageStatus is the monotone status of a queued prompt.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)

// EventType enumerates sandbox event kinds the coordinator interprets or
// passes through opaquely.
type EventType string

const (
	EventToolCall          EventType = "tool_call"
	EventToolResult        EventType = "tool_result"
	EventToken             EventType = "token"
	EventError             EventType = "error"
	EventGitSync           EventType = "git_sync"
	EventExecutionComplete EventType = "execution_complete"
	EventHeartbeat         EventType = "heartbeat"
	EventPushComplete      EventType = "push_complete"
	EventPushError         EventType = "push_error"
)

// ArtifactType enumerates artifact kinds.
type ArtifactType string

const (
	ArtifactPR         ArtifactType = "pr"
	ArtifactScreenshot ArtifactType = "screenshot"
	ArtifactPreview    ArtifactType = "preview"
	ArtifactBranch     ArtifactType = "branch"
)

// Session is the per-session identity row. A session name (external) and a
// session id (internal, stable) may differ; both are stored.
type Session struct {
	ID                string
	SessionName       string
	Title             string
	RepoOwner         string
	RepoName          string
	RepoID            string
	RepoDefaultBranch string
	BranchName        string
	BaseSHA           string
	CurrentSHA        string
	Model             string
	Status            SessionStatus
	CreatedAt         int64
	UpdatedAt         int64
}

// Participant is a user authorized to interact with the session.
type Participant struct {
	ID                  string
	UserID              string
	HostLogin           string
	HostDisplayName     string
	HostEmail           string
	HostNumericID       int64
	Role                ParticipantRole
	HostAccessTokenEnc  []byte
	HostRefreshTokenEnc []byte
	HostTokenExpiresAt  int64
	WSAuthTokenHash     string
	WSAuthTokenIssuedAt int64
	CreatedAt           int64
	UpdatedAt           int64
}

// Message is a user-authored prompt.
type Message struct {
	ID                  string
	AuthorID            string
	Content             string
	Source              MessageSource
	ModelOverride       string
	AttachmentsJSON     string
	Status              MessageStatus
	CallbackContextJSON string
	ErrorMessage        string
	CreatedAt           int64
	StartedAt           int64
	CompletedAt         int64
}

// Event is an append-only record of something the sandbox reported.
type Event struct {
	ID        string
	Type      EventType
	DataJSON  string
	MessageID string // empty when not associated with a prompt
	CreatedAt int64
}

// Artifact is an append-only output of a session (PR, screenshot, etc).
type Artifact struct {
	ID           string
	Type         ArtifactType
	URL          string
	MetadataJSON string
	CreatedAt    int64
}

// Sandbox is the single ephemeral-compute record for a session.
type Sandbox struct {
	ExternalSandboxID string
	ProviderObjectID  string
	SnapshotImageID   string
	AuthToken         string
	Status            string
	GitSyncStatus     string
	LastHeartbeat     int64 // 0 == null
	LastActivity      int64 // 0 == null
	LastSpawnError    string
	LastSpawnErrorAt  int64
	FailureCount      int
	LastFailureTime   int64
	CreatedAt         int64
	UpdatedAt         int64
}

// WSClientMapping maps a socket id to the participant and client it
// authenticated as, surviving host hibernation even though the in-memory
// client cache does not.
type WSClientMapping struct {
	SocketID      string
	ParticipantID string
	ClientID      string
	CreatedAt     int64
}
