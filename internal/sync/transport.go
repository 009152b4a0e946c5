package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"

	"github.com/pkg/sftp"
)

// uploadChunk is the copy granularity between cancellation checks
const uploadChunk = 32 * 1024

// Transport copies files onto the brick. The synchronizer depends on this
// interface so the batch semantics are testable without a live SFTP link.
type Transport interface {
	// MkdirAll creates a remote directory and any missing parents
	MkdirAll(path string) error
	// Upload atomically replaces the remote path with the local file's
	// content, preserving permission bits; a concurrently running remote
	// process never observes a partially written file
	Upload(ctx context.Context, local, remote string, mode fs.FileMode) error
	// Close releases the transport
	Close() error
}

// sftpTransport implements Transport over an SFTP subsystem
type sftpTransport struct {
	client *sftp.Client
}

// NewSFTPTransport wraps an SFTP client as a Transport
func NewSFTPTransport(client *sftp.Client) Transport {
	return &sftpTransport{client: client}
}

func (t *sftpTransport) MkdirAll(p string) error {
	return t.client.MkdirAll(p)
}

func (t *sftpTransport) Close() error {
	return t.client.Close()
}

// tempUploadPath returns the hidden temporary name an upload is staged
// under, in the same directory as its final path so the rename is atomic
func tempUploadPath(remote string) string {
	dir, name := path.Split(remote)
	return dir + "." + name + ".brickctl-tmp"
}

func (t *sftpTransport) Upload(ctx context.Context, local, remote string, mode fs.FileMode) error {
	src, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open local file: %w", err)
	}
	defer src.Close()

	tmp := tempUploadPath(remote)
	dst, err := t.client.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create remote temp file: %w", err)
	}

	if err := copyBounded(ctx, dst, src); err != nil {
		dst.Close()
		t.client.Remove(tmp)
		return err
	}
	if err := dst.Chmod(mode.Perm()); err != nil {
		dst.Close()
		t.client.Remove(tmp)
		return fmt.Errorf("failed to set remote permissions: %w", err)
	}
	if err := dst.Close(); err != nil {
		t.client.Remove(tmp)
		return fmt.Errorf("failed to finish remote write: %w", err)
	}

	if err := t.client.PosixRename(tmp, remote); err != nil {
		// older servers lack posix-rename; Rename refuses to clobber,
		// so drop the target first
		t.client.Remove(remote)
		if err := t.client.Rename(tmp, remote); err != nil {
			t.client.Remove(tmp)
			return fmt.Errorf("failed to rename remote file into place: %w", err)
		}
	}
	return nil
}

// copyBounded copies in chunks, honoring cancellation even while a write
// is stalled; on cancellation dst is closed so a blocked writer unwinds
func copyBounded(ctx context.Context, dst io.WriteCloser, src io.Reader) error {
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, uploadChunk)
		for {
			if err := ctx.Err(); err != nil {
				done <- err
				return
			}
			n, readErr := src.Read(buf)
			if n > 0 {
				if _, err := dst.Write(buf[:n]); err != nil {
					done <- fmt.Errorf("failed to write remote file: %w", err)
					return
				}
			}
			if readErr == io.EOF {
				done <- nil
				return
			}
			if readErr != nil {
				done <- fmt.Errorf("failed to read local file: %w", readErr)
				return
			}
		}
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		dst.Close()
		<-done
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTransferTimeout
	}
	return err
}
