package ports

import (
	"context"
	"io"
)

type ProcessSpec struct {
	Binary string
	Args   []string
	Dir    string
}

// Process is a running recorder instance. Stdout and Stderr must be read to
// EOF before Wait is called.
type Process interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (exitCode int, err error)
	// Kill terminates the process and every child it spawned.
	Kill() error
}

type ProcessLauncher interface {
	Launch(spec ProcessSpec) (Process, error)
}

// ArtifactExporter ships a finished recording somewhere off the box.
type ArtifactExporter interface {
	Export(ctx context.Context, localPath string) (remotePath string, err error)
}
