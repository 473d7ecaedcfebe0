package supervisor

import "errors"

var (
	// ErrAborted marks cooperative cancellation. It is not a build failure:
	// no repair is triggered and no failure audit is written.
	ErrAborted = errors.New("build aborted")

	// ErrMissingDependency is returned when a planned step names a dependency
	// path that neither the project nor any earlier step produced. It is
	// raised before the builder model is invoked for that step.
	ErrMissingDependency = errors.New("step dependency missing")

	// ErrRuntimeValidationFailed means the generated application did not
	// become healthy within the validation window.
	ErrRuntimeValidationFailed = errors.New("runtime validation failed")

	// ErrRepairFailed means a repair cycle ran and re-validation still failed.
	ErrRepairFailed = errors.New("repair failed")

	// ErrBuildInProgress is returned when a build is requested for a project
	// that already has an active build.
	ErrBuildInProgress = errors.New("build already in progress")
)
