package store

// Observation is the atomic record of a tool use or user annotation.
// Immutable after insert except LastAccessedEpoch, IsStale and the
// title/text rewrites performed by consolidation.
type Observation struct {
	ID                int64  `json:"id"`
	MemorySessionID   int64  `json:"memory_session_id"`
	Project           string `json:"project"`
	Type              string `json:"type"`
	Title             string `json:"title"`
	Subtitle          string `json:"subtitle,omitempty"`
	Text              string `json:"text,omitempty"`
	Narrative         string `json:"narrative,omitempty"`
	Facts             string `json:"facts,omitempty"`
	Concepts          string `json:"concepts,omitempty"`
	FilesRead         string `json:"files_read,omitempty"`
	FilesModified     string `json:"files_modified,omitempty"`
	PromptNumber      int    `json:"prompt_number"`
	CreatedAt         string `json:"created_at"`
	CreatedAtEpoch    int64  `json:"created_at_epoch"`
	ContentHash       string `json:"content_hash"`
	DiscoveryTokens   int    `json:"discovery_tokens"`
	LastAccessedEpoch *int64 `json:"last_accessed_epoch,omitempty"`
	IsStale           bool   `json:"is_stale"`
	AutoCategory      string `json:"auto_category"`
}

// NewObservation is an insert candidate; the store fills the generated
// fields (id, timestamps, content hash, discovery tokens).
type NewObservation struct {
	MemorySessionID int64
	Project         string
	Type            string
	Title           string
	Subtitle        string
	Text            string
	Narrative       string
	Facts           string
	Concepts        string
	FilesRead       string
	FilesModified   string
	PromptNumber    int
	AutoCategory    string
}

// Session bounds one agent working period.
type Session struct {
	ID               int64   `json:"id"`
	ContentSessionID string  `json:"content_session_id"`
	Project          string  `json:"project"`
	UserPrompt       string  `json:"user_prompt,omitempty"`
	Status           string  `json:"status"`
	StartedAt        string  `json:"started_at"`
	StartedAtEpoch   int64   `json:"started_at_epoch"`
	CompletedAt      *string `json:"completed_at,omitempty"`
	CompletedAtEpoch *int64  `json:"completed_at_epoch,omitempty"`
}

// Session status values.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
)

// Summary is the end-of-session digest.
type Summary struct {
	ID             int64  `json:"id"`
	SessionID      int64  `json:"session_id"`
	Project        string `json:"project"`
	Request        string `json:"request,omitempty"`
	Investigated   string `json:"investigated,omitempty"`
	Learned        string `json:"learned,omitempty"`
	Completed      string `json:"completed,omitempty"`
	NextSteps      string `json:"next_steps,omitempty"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}

// Checkpoint is a resumable pointer into a session.
type Checkpoint struct {
	ID              int64  `json:"id"`
	SessionID       int64  `json:"session_id"`
	Project         string `json:"project"`
	Task            string `json:"task,omitempty"`
	Progress        string `json:"progress,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	OpenQuestions   string `json:"open_questions,omitempty"`
	RelevantFiles   string `json:"relevant_files,omitempty"`
	ContextSnapshot string `json:"context_snapshot,omitempty"`
	CreatedAt       string `json:"created_at"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

// UserPrompt is one prompt the user issued within a content session.
type UserPrompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	PromptNumber     int    `json:"prompt_number"`
	PromptText       string `json:"prompt_text"`
	CreatedAt        string `json:"created_at"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// ProjectAlias maps an internal project name to a display name.
type ProjectAlias struct {
	ProjectName string `json:"project_name"`
	DisplayName string `json:"display_name"`
}

// GithubLink joins an observation to an external GitHub artifact. Rows are
// produced by the github-links plugin, never by the core ingest path.
type GithubLink struct {
	ID             int64  `json:"id"`
	ObservationID  int64  `json:"observation_id"`
	Repo           string `json:"repo"`
	Number         int    `json:"number,omitempty"`
	Action         string `json:"action,omitempty"`
	URL            string `json:"url,omitempty"`
	CreatedAtEpoch int64  `json:"created_at_epoch"`
}
