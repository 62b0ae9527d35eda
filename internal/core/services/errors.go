package services

import "errors"

// Task errors
var (
	ErrTaskNotFound     = errors.New("task: not found")
	ErrTaskInvalidInput = errors.New("task: invalid input")
	ErrTaskSpawnFailed  = errors.New("task: recorder process failed to start")
	ErrTaskExists       = errors.New("task: id already in use")
)

// Group errors
var (
	ErrGroupNotFound     = errors.New("group: not found")
	ErrGroupInvalidInput = errors.New("group: invalid input")
)

// Decoder errors
var (
	ErrUndecodableOutput = errors.New("decoder: chunk is not text")
)

// Artifact errors
var (
	ErrArtifactOutsideRoot = errors.New("artifact: path outside allowed root")
	ErrArtifactRootMissing = errors.New("artifact: root not configured")
)
