package models

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// ErrTerminalDeployment is returned when an update targets a deployment
	// that already finished.
	ErrTerminalDeployment = errors.New("deployment is in a terminal state")
)
