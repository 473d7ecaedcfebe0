package supervisor

// Classified user intents.
const (
	IntentChat       = "chat"
	IntentBuild      = "build"
	IntentRepair     = "repair"
	IntentCloudSetup = "cloud_setup"
)

// classification is the decoded result of the classify stage.
type classification struct {
	Intent   string `json:"intent"`
	Response string `json:"response,omitempty"`
	Language string `json:"language,omitempty"`
}

// designSpec is the decoded result of the design stage. The raw JSON is kept
// alongside the parsed fields because later stages receive it verbatim as
// context.
type designSpec struct {
	AppName    string       `json:"app_name"`
	Summary    string       `json:"summary"`
	Theme      string       `json:"theme,omitempty"`
	Navigation []string     `json:"navigation,omitempty"`
	Pages      []designPage `json:"pages,omitempty"`
}

type designPage struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// requirements is the decoded result of the requirements gate stage.
type requirements struct {
	NeedsBackend bool   `json:"needs_backend"`
	Reason       string `json:"reason,omitempty"`
}

// phasePlan is the decoded result of the phase planning stage.
type phasePlan struct {
	Phases []plannedPhase `json:"phases"`
}

type plannedPhase struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Kind        string `json:"kind"`
}

// stepPlan is the decoded result of the per-phase step planning stage.
type stepPlan struct {
	Steps []Step `json:"steps"`
}

// Step is one file-level unit of work within a phase.
type Step struct {
	Path         string   `json:"path"`
	Task         string   `json:"task"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// File change actions emitted by the builder stage.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// FileChange is one file mutation produced by a build or repair step.
type FileChange struct {
	Action  string `json:"action"`
	Path    string `json:"path"`
	Content string `json:"content"`
	IsEntry bool   `json:"is_entry,omitempty"`
}

// stepResult is the decoded result of the build step stage.
type stepResult struct {
	Changes     []FileChange `json:"changes"`
	Explanation string       `json:"explanation,omitempty"`
}

// repairResult is the decoded result of the repair stage.
type repairResult struct {
	Patches     []repairPatch `json:"patches"`
	Explanation string        `json:"explanation,omitempty"`
}

type repairPatch struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// titleResult is the decoded result of the title stage.
type titleResult struct {
	Title string `json:"title"`
}
