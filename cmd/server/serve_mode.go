package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which parts of the service a process runs.
type ServeMode string

const (
	ServeModeMonolith ServeMode = "monolith"
	ServeModeAPI      ServeMode = "api"
	ServeModeWorker   ServeMode = "worker"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeMonolith, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeMonolith, ServeModeAPI, ServeModeWorker:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

// ServesHTTP reports whether the mode listens for review flow requests.
func (mode ServeMode) ServesHTTP() bool {
	return mode != ServeModeWorker
}

// RunsWorker reports whether the mode runs the reward retry job.
func (mode ServeMode) RunsWorker() bool {
	return mode != ServeModeAPI
}
