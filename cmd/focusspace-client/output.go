package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for client commands.
const (
	exitSuccess      = 0
	exitFailure      = 1 // the workspace could not be loaded or saved
	exitCommandError = 2 // bad arguments or unknown item IDs
)

// exitError attaches an exit code to a command error.
type exitError struct {
	Code    int
	Message string
	Err     error
}

func (e *exitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *exitError) Unwrap() error {
	return e.Err
}

func newExitError(code int, format string, args ...any) *exitError {
	return &exitError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapExitError(code int, message string, err error) *exitError {
	return &exitError{Code: code, Message: message, Err: err}
}

func exitCode(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return exitFailure
}

// printer renders command results as text or JSON.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *rootOptions, w io.Writer) *printer {
	return &printer{format: opts.Format, w: w}
}

// result writes data as indented JSON, or calls text otherwise.
func (p *printer) result(data any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}
	text(p.w)
	return nil
}
