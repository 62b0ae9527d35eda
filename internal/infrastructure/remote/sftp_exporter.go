package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/infrastructure/logger"
)

var ErrExportFailed = errors.New("export: upload failed")

type SFTPExporterConfig struct {
	SSH       SSHConfig
	RemoteDir string
	Logger    *logger.Logger
}

type sftpExporter struct {
	client    *SSHClient
	remoteDir string
	logger    *logger.Logger
}

// NewSFTPExporter uploads finished recordings to RemoteDir on an SSH host.
// Each export opens its own connection.
func NewSFTPExporter(cfg SFTPExporterConfig) ports.ArtifactExporter {
	client := NewSSHClient(cfg.SSH)
	return &sftpExporter{
		client:    client,
		remoteDir: cfg.RemoteDir,
		logger:    cfg.Logger,
	}
}

func (e *sftpExporter) Export(ctx context.Context, localPath string) (string, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	defer src.Close()

	conn, err := e.client.ConnectWithRetry(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("%w: sftp session: %v", ErrExportFailed, err)
	}
	defer client.Close()

	remoteDir := e.remoteDir
	if remoteDir == "" {
		remoteDir = "."
	}
	if err := client.MkdirAll(remoteDir); err != nil {
		return "", fmt.Errorf("%w: mkdir %s: %v", ErrExportFailed, remoteDir, err)
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	partial := remotePath + ".part"
	dst, err := client.Create(partial)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", ErrExportFailed, partial, err)
	}

	start := time.Now()
	n, copyErr := copyWithContext(ctx, dst, src)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		_ = client.Remove(partial)
		return "", fmt.Errorf("%w: %v", ErrExportFailed, errors.Join(copyErr, closeErr))
	}
	if err := client.PosixRename(partial, remotePath); err != nil {
		return "", fmt.Errorf("%w: rename: %v", ErrExportFailed, err)
	}

	e.logger.Infow("export_upload_ok",
		"host", e.client.Address(),
		"remote_path", remotePath,
		"bytes", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return remotePath, nil
}

type readerFunc func(p []byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

// copyWithContext stops between chunks once ctx is done.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	return io.Copy(dst, readerFunc(func(p []byte) (int, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return src.Read(p)
	}))
}
