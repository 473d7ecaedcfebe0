package models

import (
	"time"

	"gorm.io/gorm"
)

// User owns projects. Authentication beyond bearer tokens lives outside this
// service; the record exists so builds and usage can be attributed.
type User struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Username string `json:"username" gorm:"uniqueIndex;not null"`
	Email    string `json:"email" gorm:"uniqueIndex;not null"`
	IsActive bool   `json:"is_active" gorm:"default:true"`

	Projects []Project `json:"projects" gorm:"foreignKey:OwnerID"`
}

// Project lifecycle status values. The supervisor is the only writer while a
// build is active.
const (
	ProjectStatusIdle       = "idle"
	ProjectStatusGenerating = "generating"
	ProjectStatusFailed     = "failed"
)

// Project is the unit of work for the generation supervisor.
type Project struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`

	OwnerID uint `json:"owner_id" gorm:"not null;index"`
	Owner   User `json:"owner" gorm:"foreignKey:OwnerID"`

	// Status is the lifecycle status: idle, generating, failed.
	Status string `json:"status" gorm:"default:'idle'"`

	// EntryPoint is the path designated as the application's bootstrap module,
	// recorded when a builder change is flagged as the entry.
	EntryPoint string `json:"entry_point"`

	// BackendConnected reports whether a provisioned backend is attached.
	// The requirements gate halts backend-needing builds until it is true.
	BackendConnected bool `json:"backend_connected" gorm:"default:false"`

	// Request is the latest natural-language build request.
	Request string `json:"request"`

	// BuildState carries the current build's phase plan and progress so an
	// interrupted run can resume idempotently.
	BuildState *BuildState `json:"build_state,omitempty" gorm:"serializer:json"`

	Files    []ProjectFile `json:"files" gorm:"foreignKey:ProjectID"`
	Messages []Message     `json:"messages" gorm:"foreignKey:ProjectID"`
}

// ProjectFile kinds.
const (
	FileKindFile   = "file"
	FileKindFolder = "folder"
)

// ProjectFile is one entry in a project's accumulated file set. Paths are
// unique per project; a later write replaces content in place.
type ProjectFile struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID uint   `json:"project_id" gorm:"not null;uniqueIndex:idx_project_path"`
	Path      string `json:"path" gorm:"not null;uniqueIndex:idx_project_path"`
	Content   string `json:"content"`
	Kind      string `json:"kind" gorm:"default:'file'"` // file or folder
}

// Message roles.
const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
	MessageRoleSystem    = "system"
)

// Message is a conversation/status message attached to a project. LogicalKey
// lets the supervisor upsert progress messages instead of appending duplicates.
type Message struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID uint   `json:"project_id" gorm:"not null;index"`
	Role      string `json:"role" gorm:"not null"`
	Content   string `json:"content"`

	// LogicalKey identifies a progress message for in-place updates
	// (e.g. "phase-2-status"). Empty for plain chat messages.
	LogicalKey string `json:"logical_key" gorm:"index"`

	// ActionRequired marks messages the caller must act on (backend
	// connection requests) before re-invoking the build.
	ActionRequired bool `json:"action_required" gorm:"default:false"`
}

// AIProviderConfig is a stored model-provider configuration. At most one row
// is active and at most one is fallback at any time; activating a config
// demotes the previously active one to fallback.
type AIProviderConfig struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name       string `json:"name" gorm:"uniqueIndex;not null"`
	Provider   string `json:"provider" gorm:"not null"` // claude, openai, gemini
	Model      string `json:"model" gorm:"not null"`
	IsActive   bool   `json:"is_active" gorm:"default:false;index"`
	IsFallback bool   `json:"is_fallback" gorm:"default:false;index"`

	// APIKeyCiphertext holds the provider key encrypted with the master key.
	// The plaintext never touches the database.
	APIKeyCiphertext string `json:"-" gorm:"column:api_key_ciphertext"`
}

// HasCredentials reports whether the config can actually be called.
func (c *AIProviderConfig) HasCredentials() bool {
	return c.APIKeyCiphertext != ""
}

// AIUsageRecord is one provider call's usage, written by the billing
// recorder. Operation carries the pipeline stage label, with a "_fallback"
// suffix when the fallback provider answered.
type AIUsageRecord struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	UserID    uint   `json:"user_id" gorm:"index"`
	ProjectID uint   `json:"project_id" gorm:"index"`
	Provider  string `json:"provider" gorm:"not null"`
	Model     string `json:"model"`
	Operation string `json:"operation" gorm:"index"`

	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`

	DurationMs int64 `json:"duration_ms"`
}

// Preview health values observed during runtime validation.
const (
	PreviewHealthy = "healthy"
	PreviewBlank   = "blank"
	PreviewError   = "error"
)

// BuildAudit summarizes a terminal build outcome. Exactly one row is written
// per terminal state, success or final failure.
type BuildAudit struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	ProjectID uint   `json:"project_id" gorm:"not null;index"`
	BuildID   string `json:"build_id" gorm:"index"`

	Score         int      `json:"score"`
	Passed        bool     `json:"passed"`
	PreviewHealth string   `json:"preview_health"` // healthy, blank, error
	Routes        []string `json:"routes" gorm:"serializer:json"`

	Issues []AuditIssue `json:"issues" gorm:"serializer:json"`
}

// AuditIssue is one problem surfaced by validation or final failure.
type AuditIssue struct {
	Severity string `json:"severity"` // info, warning, error
	Message  string `json:"message"`
}

// PromptTemplate is a versioned system instruction for one pipeline stage.
// A missing row for a required stage is a deployment defect: the resolver
// fails hard instead of substituting fallback text.
type PromptTemplate struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	StageKey    string `json:"stage_key" gorm:"uniqueIndex;not null"`
	Instruction string `json:"instruction" gorm:"not null"`
	Version     int    `json:"version" gorm:"default:1"`
}

// Build phase lifecycle.
const (
	PhasePending   = "pending"
	PhaseActive    = "active"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseSkipped   = "skipped"
	PhaseRetrying  = "retrying"
)

// Build phase kinds, in the order the planner emits them.
const (
	PhaseKindSkeleton = "skeleton"
	PhaseKindUI       = "ui"
	PhaseKindLogic    = "logic"
	PhaseKindBackend  = "backend"
)

// BuildPhase is one planned unit of build work. Phases are persisted with the
// project so a resumed run can skip the ones already completed.
type BuildPhase struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	RetryCount  int    `json:"retry_count"`
}

// BuildState is the durable progress record for the project's current build.
type BuildState struct {
	BuildID     string       `json:"build_id"`
	Phases      []BuildPhase `json:"phases"`
	DesignJSON  string       `json:"design_json,omitempty"`
	Language    string       `json:"language,omitempty"`
	RepairCount int          `json:"repair_count"`
}
