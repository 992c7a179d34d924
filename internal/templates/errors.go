package templates

import (
	"errors"
	"fmt"
)

// ErrTemplateNotFound is matched by every *NotFoundError.
var ErrTemplateNotFound = errors.New("template not found")

// SetupError reports a failure to initialise a component at startup.
type SetupError struct {
	Op   string
	Path string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// ReloadError reports that a fresh environment could not be compiled.
// The previously installed environment, if any, stays in service.
type ReloadError struct {
	Root       string
	Generation uint64
	Err        error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("reload templates from %s (generation %d): %v", e.Root, e.Generation, e.Err)
}

func (e *ReloadError) Unwrap() error { return e.Err }

// CompileError reports a single template that failed to parse.
type CompileError struct {
	Name string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile %s: %v", e.Name, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup for a name absent from the environment.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrTemplateNotFound }

// RenderError reports a failure while executing a compiled template.
type RenderError struct {
	Name string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Name, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
