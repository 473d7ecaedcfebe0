// Package supervisor drives the generation pipeline for a project: it
// classifies the user's intent, designs and plans the application, executes
// build phases step by step, validates the result at runtime and runs a
// bounded repair loop when validation fails. All progress is reported as an
// ordered event stream; persistence and provider access are collaborators.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lumen-build/internal/cache"
	"lumen-build/internal/metrics"
	"lumen-build/internal/preview"
	"lumen-build/internal/prompts"
	"lumen-build/pkg/models"
)

const (
	// maxRepairCycles bounds repair attempts per build, counting both the
	// validation-triggered cycle and any caller-invoked ones.
	maxRepairCycles = 3

	// contextCharsPerFile caps per-file content in prompt context.
	contextCharsPerFile = 500

	defaultValidationTimeout = 8 * time.Second

	progressKey = "build-progress"
	actionKey   = "action-required"
)

// Supervisor orchestrates builds. One instance serves all projects; per-build
// state lives in a run.
type Supervisor struct {
	store     ProjectStore
	completer Completer
	prompts   *prompts.Resolver
	validator preview.Validator
	snapshots *cache.SnapshotCache
	stream    *Stream
	log       *zap.Logger

	validationTimeout time.Duration
	stepBackoff       time.Duration
}

// Options wires the supervisor's collaborators. Validator and Snapshots are
// optional; without a validator runtime validation passes trivially.
type Options struct {
	Store             ProjectStore
	Completer         Completer
	Prompts           *prompts.Resolver
	Validator         preview.Validator
	Snapshots         *cache.SnapshotCache
	Stream            *Stream
	Log               *zap.Logger
	ValidationTimeout time.Duration
}

func New(opts Options) *Supervisor {
	if opts.Stream == nil {
		opts.Stream = NewStream()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ValidationTimeout <= 0 {
		opts.ValidationTimeout = defaultValidationTimeout
	}
	return &Supervisor{
		store:             opts.Store,
		completer:         opts.Completer,
		prompts:           opts.Prompts,
		validator:         opts.Validator,
		snapshots:         opts.Snapshots,
		stream:            opts.Stream,
		log:               opts.Log,
		validationTimeout: opts.ValidationTimeout,
	}
}

// Stream exposes the supervisor's event stream for subscribers.
func (s *Supervisor) Stream() *Stream { return s.stream }

// run is the per-build working state.
type run struct {
	s        *Supervisor
	ctx      context.Context
	project  *models.Project
	files    *FileSet
	exec     *StepExecutor
	state    *models.BuildState
	request  string
	isResume bool

	entryPoint    string
	previewHealth string
}

// Start executes the pipeline for a request. With isResume set, a previously
// planned build continues and phases already completed are skipped.
func (s *Supervisor) Start(ctx context.Context, projectID uint, request string, isResume bool) error {
	project, err := s.store.Load(ctx, projectID)
	if err != nil {
		return err
	}
	r := s.newRun(ctx, project, request, isResume, !isResume)
	return r.finish(r.execute())
}

// Repair runs one caller-invoked repair cycle against the project's current
// files and re-validates. Subject to the same per-build repair budget.
func (s *Supervisor) Repair(ctx context.Context, projectID uint, errorContext string) error {
	project, err := s.store.Load(ctx, projectID)
	if err != nil {
		return err
	}
	// Repairs reuse the current build state so the repair budget spans the
	// whole build, not each invocation.
	r := s.newRun(ctx, project, errorContext, false, false)
	return r.finish(r.executeRepair(errorContext))
}

func (s *Supervisor) newRun(ctx context.Context, project *models.Project, request string, isResume, fresh bool) *run {
	state := project.BuildState
	if state == nil || fresh {
		state = &models.BuildState{BuildID: uuid.New().String()}
	}

	r := &run{
		s:          s,
		ctx:        ctx,
		project:    project,
		files:      NewFileSet(project.Files),
		state:      state,
		request:    request,
		isResume:   isResume,
		entryPoint: project.EntryPoint,
	}

	exec := NewStepExecutor(s.completer, s.prompts, s.log.Named("executor"))
	exec.UserID = project.OwnerID
	exec.ProjectID = project.ID
	exec.Language = state.Language
	if s.stepBackoff > 0 {
		exec.backoff = s.stepBackoff
	}
	exec.OnError = func(message string, remaining int) {
		r.emit(Event{
			Type:             EventStepError,
			ErrorMessage:     message,
			RemainingRetries: remaining,
		})
	}
	exec.OnTrace = func(tr TraceRecord) {
		r.emit(Event{Type: EventDebugTrace, Trace: &tr})
	}
	r.exec = exec
	return r
}

func (r *run) emit(ev Event) {
	ev.BuildID = r.state.BuildID
	ev.ProjectID = r.project.ID
	r.s.stream.Emit(ev)
}

func (r *run) say(logicalKey, content string, actionRequired bool) {
	msg, err := r.s.store.UpsertMessage(r.ctx, r.project.ID, logicalKey, models.MessageRoleAssistant, content, actionRequired)
	if err != nil {
		r.s.log.Warn("message upsert failed", zap.Error(err))
		return
	}
	typ := EventMessageUpserted
	if actionRequired {
		typ = EventActionRequired
	}
	r.emit(Event{Type: typ, Message: msg})
}

func (r *run) saveState() {
	if err := r.s.store.SaveBuildState(r.ctx, r.project.ID, r.state); err != nil {
		r.s.log.Warn("build state save failed", zap.Error(err))
	}
}

// execute is the state machine body. A nil return means the run reached a
// terminal state that was already reported (success, chat, action required).
func (r *run) execute() error {
	if err := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusGenerating); err != nil {
		return err
	}

	// A resumed run with a surviving plan re-enters execution directly.
	if r.isResume && len(r.state.Phases) > 0 {
		return r.runBuild()
	}

	if r.ctx.Err() != nil {
		return ErrAborted
	}

	var cls classification
	if err := r.exec.RunInto(r.ctx, prompts.StageClassify, r.classifyPrompt(), nil, &cls); err != nil {
		return err
	}
	if cls.Language != "" {
		r.state.Language = cls.Language
		r.exec.Language = cls.Language
	}

	switch cls.Intent {
	case IntentChat:
		return r.finishChat(cls.Response)
	case IntentCloudSetup:
		return r.haltForAction("This request needs cloud services. Connect a backend to your project, then try again.")
	case IntentRepair:
		return r.repairAndValidate(r.request)
	default:
		return r.runBuild()
	}
}

func (r *run) executeRepair(errorContext string) error {
	if err := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusGenerating); err != nil {
		return err
	}
	return r.repairAndValidate(errorContext)
}

func (r *run) runBuild() error {
	if !r.isResume || r.state.DesignJSON == "" {
		if err := r.design(); err != nil {
			return err
		}
		halted, err := r.requirementsGate()
		if err != nil || halted {
			return err
		}
		if err := r.planPhases(); err != nil {
			return err
		}
	}

	if err := r.executePhases(); err != nil {
		return err
	}
	if err := r.validateWithRepair(); err != nil {
		return err
	}
	return r.succeed()
}

func (r *run) design() error {
	r.say(progressKey, "Designing your app...", false)

	payload, err := r.exec.Run(r.ctx, prompts.StageDesign, r.designPrompt(), nil)
	if err != nil {
		return err
	}
	r.state.DesignJSON = string(payload)
	r.saveState()

	if r.project.Name == "" || r.project.Name == "Untitled" {
		r.nameProject()
	}
	return nil
}

// nameProject asks the title stage for a short project name. Failures are
// logged and ignored; naming never blocks a build.
func (r *run) nameProject() {
	var title titleResult
	prompt := fmt.Sprintf("Request:\n%s\n\nDesign:\n%s", r.request, r.state.DesignJSON)
	if err := r.exec.RunInto(r.ctx, prompts.StageTitle, prompt, nil, &title); err != nil {
		r.s.log.Warn("title stage failed", zap.Error(err))
		return
	}
	if title.Title == "" {
		return
	}
	if err := r.s.store.SetName(r.ctx, r.project.ID, title.Title); err != nil {
		r.s.log.Warn("project rename failed", zap.Error(err))
		return
	}
	r.project.Name = title.Title
}

// requirementsGate halts the build when the design needs a backend the
// project does not have. Returns true when the run stopped.
func (r *run) requirementsGate() (bool, error) {
	var req requirements
	prompt := fmt.Sprintf("Request:\n%s\n\nDesign:\n%s", r.request, r.state.DesignJSON)
	if err := r.exec.RunInto(r.ctx, prompts.StageRequirements, prompt, nil, &req); err != nil {
		return false, err
	}
	if !req.NeedsBackend || r.project.BackendConnected {
		return false, nil
	}

	reason := req.Reason
	if reason == "" {
		reason = "This app needs server-side features."
	}
	return true, r.haltForAction(reason + " Connect a backend to your project, then resume the build.")
}

func (r *run) planPhases() error {
	var plan phasePlan
	prompt := fmt.Sprintf("Design:\n%s\n\nExisting files:\n%s", r.state.DesignJSON, strings.Join(r.files.Paths(), "\n"))
	if err := r.exec.RunInto(r.ctx, prompts.StagePhasePlan, prompt, nil, &plan); err != nil {
		return err
	}
	if len(plan.Phases) == 0 {
		return fmt.Errorf("phase planning produced an empty plan")
	}

	r.state.Phases = make([]models.BuildPhase, 0, len(plan.Phases))
	for _, p := range plan.Phases {
		r.state.Phases = append(r.state.Phases, models.BuildPhase{
			ID:          uuid.New().String(),
			Title:       p.Title,
			Description: p.Description,
			Kind:        p.Kind,
			Status:      models.PhasePending,
		})
	}
	r.saveState()

	r.emit(Event{Type: EventPlanUpdated, Phases: r.phasesCopy()})
	r.say(progressKey, fmt.Sprintf("Planned %d build phases.", len(r.state.Phases)), false)
	return nil
}

func (r *run) executePhases() error {
	total := len(r.state.Phases)
	for i := range r.state.Phases {
		phase := &r.state.Phases[i]
		if phase.Status == models.PhaseCompleted {
			continue
		}
		if r.ctx.Err() != nil {
			return ErrAborted
		}

		// A resumed run that lands on a previously failed phase retries it.
		if phase.Status == models.PhaseFailed {
			phase.RetryCount++
			phase.Status = models.PhaseRetrying
			r.emit(Event{Type: EventPlanUpdated, Phases: r.phasesCopy()})
		}

		phase.Status = models.PhaseActive
		r.saveState()
		r.emit(Event{Type: EventPhaseStarted, PhaseIndex: i, PhaseTitle: phase.Title})
		r.emit(Event{Type: EventPlanUpdated, Phases: r.phasesCopy()})
		r.say(progressKey, fmt.Sprintf("Phase %d of %d: %s", i+1, total, phase.Title), false)

		if err := r.executePhase(i, phase); err != nil {
			phase.Status = models.PhaseFailed
			r.skipRemainingPhases(i + 1)
			r.saveState()
			r.emit(Event{Type: EventPlanUpdated, Phases: r.phasesCopy()})
			return err
		}

		phase.Status = models.PhaseCompleted
		r.saveState()
		r.emit(Event{Type: EventPhaseCompleted, PhaseIndex: i, PhaseTitle: phase.Title})
		r.emit(Event{Type: EventPlanUpdated, Phases: r.phasesCopy()})
	}
	return nil
}

// skipRemainingPhases marks every phase from index on as skipped after a
// failure. A later resume picks them back up.
func (r *run) skipRemainingPhases(from int) {
	for i := from; i < len(r.state.Phases); i++ {
		if r.state.Phases[i].Status == models.PhasePending {
			r.state.Phases[i].Status = models.PhaseSkipped
		}
	}
}

func (r *run) executePhase(phaseIndex int, phase *models.BuildPhase) error {
	var plan stepPlan
	prompt := fmt.Sprintf("Design:\n%s\n\nPhase: %s\n%s\n\nProject files:\n%s",
		r.state.DesignJSON, phase.Title, phase.Description, strings.Join(r.files.Paths(), "\n"))
	if err := r.exec.RunInto(r.ctx, prompts.StageStepPlan, prompt, nil, &plan); err != nil {
		return err
	}

	for j, step := range plan.Steps {
		if r.ctx.Err() != nil {
			return ErrAborted
		}
		r.emit(Event{Type: EventStepStarted, PhaseIndex: phaseIndex, PhaseTitle: phase.Title, StepIndex: j, StepPath: step.Path})

		// Dependencies must already exist; checked before any model call so
		// a bad plan fails fast and cheap.
		for _, dep := range step.Dependencies {
			if !r.files.Has(dep) {
				return fmt.Errorf("%w: %q required by step %q", ErrMissingDependency, dep, step.Path)
			}
		}

		var result stepResult
		if err := r.exec.RunInto(r.ctx, prompts.StageBuildStep, r.stepPrompt(step), nil, &result); err != nil {
			return err
		}
		if err := r.applyChanges(result.Changes); err != nil {
			return err
		}

		r.pushSnapshot()
		r.emit(Event{
			Type:       EventChunkCompleted,
			Files:      r.files.Snapshot(),
			EntryPoint: r.entryPoint,
		})
		r.emit(Event{Type: EventStepCompleted, PhaseIndex: phaseIndex, PhaseTitle: phase.Title, StepIndex: j, StepPath: step.Path})
	}
	return nil
}

// applyChanges sanitizes and merges builder output. Creates never overwrite
// existing paths; only changes that actually land are persisted.
func (r *run) applyChanges(changes []FileChange) error {
	for _, change := range changes {
		change.Content = SanitizeContent(change.Path, change.Content)
		applied := r.files.Apply(change)
		if !applied {
			if change.Action == ActionCreate {
				r.s.log.Debug("create skipped, path exists", zap.String("path", change.Path))
			}
			continue
		}

		path := NormalizePath(change.Path)
		if err := r.s.store.SaveFile(r.ctx, r.project.ID, path, change.Content); err != nil {
			return fmt.Errorf("persist %s: %w", path, err)
		}
		if change.IsEntry {
			r.setEntryPoint(path)
		}
	}
	return nil
}

func (r *run) setEntryPoint(path string) {
	r.entryPoint = path
	if err := r.s.store.SetEntryPoint(r.ctx, r.project.ID, path); err != nil {
		r.s.log.Warn("entry point save failed", zap.Error(err))
	}
}

func (r *run) pushSnapshot() {
	if !r.s.snapshots.Enabled() {
		return
	}
	snap := &cache.Snapshot{
		ProjectID:  r.project.ID,
		BuildID:    r.state.BuildID,
		EntryPoint: r.entryPoint,
		Files:      r.files.Snapshot(),
	}
	if err := r.s.snapshots.Put(r.ctx, snap); err != nil {
		r.s.log.Warn("snapshot cache write failed", zap.Error(err))
	}
}

// validateWithRepair runs runtime validation and, on failure, exactly one
// repair cycle followed by one re-validation.
func (r *run) validateWithRepair() error {
	reason, ok := r.validate()
	if ok {
		return nil
	}
	return r.repairCycle(reason)
}

// validate checks that the app has a runnable entry point and that the
// preview surface reports it healthy.
func (r *run) validate() (reason string, ok bool) {
	if r.entryPoint == "" {
		if entry, found := r.files.ConventionalEntry(); found {
			r.setEntryPoint(entry)
		}
	}
	if r.entryPoint == "" {
		return "No runtime entry point was produced. The app has no file a runtime could boot from.", false
	}

	r.pushSnapshot()
	if r.s.validator == nil {
		r.previewHealth = models.PreviewHealthy
		return "", true
	}

	result := r.s.validator.WaitForPreview(r.ctx, r.project.ID, r.s.validationTimeout)
	r.previewHealth = result.Health
	if result.Success {
		return "", true
	}
	if result.Error != "" {
		return result.Error, false
	}
	return "Preview did not become healthy.", false
}

// repairAndValidate is the terminal repair flow used by the repair intent and
// caller-invoked repairs: one cycle, then success or final failure.
func (r *run) repairAndValidate(errorContext string) error {
	if err := r.repairCycle(errorContext); err != nil {
		return err
	}
	return r.succeed()
}

// repairCycle runs one bounded repair against the current files and
// re-validates once.
func (r *run) repairCycle(errorContext string) error {
	if r.ctx.Err() != nil {
		return ErrAborted
	}
	if r.state.RepairCount >= maxRepairCycles {
		return fmt.Errorf("%w: repair budget of %d exhausted", ErrRepairFailed, maxRepairCycles)
	}
	r.state.RepairCount++
	r.saveState()
	metrics.Get().RepairCyclesTotal.Inc()

	r.say("repair-status", "A problem was detected. Repairing...", false)

	var result repairResult
	if err := r.exec.RunInto(r.ctx, prompts.StageRepair, r.repairPrompt(errorContext), nil, &result); err != nil {
		return fmt.Errorf("%w: %v", ErrRepairFailed, err)
	}

	changes := make([]FileChange, 0, len(result.Patches))
	for _, patch := range result.Patches {
		changes = append(changes, FileChange{Action: ActionUpdate, Path: patch.Path, Content: patch.Content})
	}
	if err := r.applyChanges(changes); err != nil {
		return fmt.Errorf("%w: %v", ErrRepairFailed, err)
	}

	r.pushSnapshot()
	r.emit(Event{Type: EventChunkCompleted, Files: r.files.Snapshot(), EntryPoint: r.entryPoint})

	if reason, ok := r.validate(); !ok {
		return fmt.Errorf("%w: %s", ErrRepairFailed, reason)
	}
	return nil
}

func (r *run) succeed() error {
	health := r.previewHealth
	if health == "" {
		health = models.PreviewHealthy
	}
	audit := &models.BuildAudit{
		ProjectID:     r.project.ID,
		BuildID:       r.state.BuildID,
		Score:         95,
		Passed:        true,
		PreviewHealth: health,
		Routes:        detectRoutes(r.files),
	}
	if err := r.s.store.SaveAudit(r.ctx, audit); err != nil {
		r.s.log.Warn("audit save failed", zap.Error(err))
	}
	if err := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusIdle); err != nil {
		return err
	}

	r.say(progressKey, "Your app is ready.", false)
	r.emit(Event{
		Type:       EventSucceeded,
		Files:      r.files.Snapshot(),
		EntryPoint: r.entryPoint,
		Audit:      audit,
	})
	metrics.Get().BuildsTotal.WithLabelValues("success").Inc()
	return nil
}

func (r *run) finishChat(response string) error {
	if response == "" {
		response = "Happy to help. What would you like to build?"
	}
	r.say("", response, false)
	if err := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusIdle); err != nil {
		return err
	}
	r.emit(Event{Type: EventSucceeded})
	metrics.Get().BuildsTotal.WithLabelValues("chat").Inc()
	return nil
}

func (r *run) haltForAction(content string) error {
	r.say(actionKey, content, true)
	r.saveState()
	if err := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusIdle); err != nil {
		return err
	}
	metrics.Get().BuildsTotal.WithLabelValues("action_required").Inc()
	return nil
}

// finish maps the run's outcome to terminal persistence and events. An
// aborted run resets to idle quietly; any other error is the final failure.
func (r *run) finish(err error) error {
	if err == nil {
		return nil
	}

	// Terminal bookkeeping must land even when the run's context is gone.
	r.ctx = context.WithoutCancel(r.ctx)

	if errors.Is(err, ErrAborted) {
		if setErr := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusIdle); setErr != nil {
			r.s.log.Warn("status reset failed", zap.Error(setErr))
		}
		r.say(progressKey, "Build cancelled.", false)
		metrics.Get().BuildsTotal.WithLabelValues("aborted").Inc()
		return err
	}

	audit := &models.BuildAudit{
		ProjectID:     r.project.ID,
		BuildID:       r.state.BuildID,
		Score:         0,
		Passed:        false,
		PreviewHealth: r.previewHealth,
		Issues:        []models.AuditIssue{{Severity: "error", Message: err.Error()}},
	}
	if saveErr := r.s.store.SaveAudit(r.ctx, audit); saveErr != nil {
		r.s.log.Warn("audit save failed", zap.Error(saveErr))
	}
	if setErr := r.s.store.SetStatus(r.ctx, r.project.ID, models.ProjectStatusFailed); setErr != nil {
		r.s.log.Warn("status save failed", zap.Error(setErr))
	}

	message := err.Error()
	if errors.Is(err, ErrRepairFailed) {
		message = "Repair failed: " + strings.TrimPrefix(message, ErrRepairFailed.Error()+": ")
	}
	r.say(progressKey, "Build failed: "+message, false)
	r.emit(Event{Type: EventFinalFailed, ErrorMessage: message, Audit: audit})
	metrics.Get().BuildsTotal.WithLabelValues("failed").Inc()

	r.s.log.Error("build failed",
		zap.Uint("project_id", r.project.ID),
		zap.String("build_id", r.state.BuildID),
		zap.Error(err))
	return err
}

func (r *run) phasesCopy() []models.BuildPhase {
	out := make([]models.BuildPhase, len(r.state.Phases))
	copy(out, r.state.Phases)
	return out
}

// Prompt assembly. Instructions come from the prompt resolver; these bodies
// carry only the run-specific context.

func (r *run) classifyPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n", r.request)
	if r.files.Len() > 0 {
		fmt.Fprintf(&b, "\nThe project already has %d files:\n%s\n", r.files.Len(), strings.Join(r.files.Paths(), "\n"))
	}
	return b.String()
}

func (r *run) designPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request:\n%s\n", r.request)
	if r.files.Len() > 0 {
		b.WriteString("\nExisting project files:\n")
		b.WriteString(r.files.TruncatedContext(contextCharsPerFile))
	}
	return b.String()
}

func (r *run) stepPrompt(step Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target file: %s\nTask: %s\n", step.Path, step.Task)
	fmt.Fprintf(&b, "\nDesign:\n%s\n", r.state.DesignJSON)
	if len(step.Dependencies) > 0 {
		b.WriteString("\nDependencies:\n")
		for _, dep := range step.Dependencies {
			if content, ok := r.files.Get(dep); ok {
				fmt.Fprintf(&b, "=== %s ===\n%s\n\n", dep, capContent(content, contextCharsPerFile))
			}
		}
	}
	if r.files.Len() > 0 {
		b.WriteString("\nExisting project files:\n")
		b.WriteString(r.files.TruncatedContext(contextCharsPerFile))
	}
	return b.String()
}

func (r *run) repairPrompt(errorContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem:\n%s\n", errorContext)
	if r.entryPoint != "" {
		fmt.Fprintf(&b, "\nEntry point: %s\n", r.entryPoint)
	}
	b.WriteString("\nProject files:\n")
	b.WriteString(r.files.TruncatedContext(contextCharsPerFile))
	return b.String()
}

var routePattern = regexp.MustCompile(`(?:path|route)\s*[:=]\s*["'](/[^"']*)["']`)

// detectRoutes scans the file set for route declarations for the audit
// record. Best effort; duplicates removed, stable order.
func detectRoutes(files *FileSet) []string {
	seen := map[string]bool{}
	var routes []string
	for _, p := range files.Paths() {
		content, _ := files.Get(p)
		for _, m := range routePattern.FindAllStringSubmatch(content, -1) {
			if !seen[m[1]] {
				seen[m[1]] = true
				routes = append(routes, m[1])
			}
		}
	}
	sort.Strings(routes)
	return routes
}
