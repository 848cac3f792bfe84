package main

import (
	"errors"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
)

const (
	exitOK         = 0
	exitUsage      = 1
	exitConnection = 2
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return exitUsage
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

// exitCodeForError maps agent connectivity failures to exitConnection and
// everything else to exitUsage unless the error carries its own code.
func exitCodeForError(err error) int {
	if err == nil {
		return exitOK
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeConnectionFailure, apperrors.ErrCodeValidationTimeout, apperrors.ErrCodeAgentAPI:
		return exitConnection
	}
	return exitUsage
}
