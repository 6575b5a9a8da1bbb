package services

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

// ReferenceError reports reference material that could not be turned into
// text. Its message is shown to the user as the research failure.
type ReferenceError struct{ Message string }

func (e *ReferenceError) Error() string { return e.Message }
