package sync

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/sourcegraph/conc/pool"
)

// ErrTransferTimeout marks a single file transfer that exceeded its bound
var ErrTransferTimeout = errors.New("file transfer timed out")

// TransferError reports one file that failed to transfer. These are
// collected into the batch summary, never aborting the batch.
type TransferError struct {
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("failed to transfer %s: %v", e.Path, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// BatchError is the aggregated, end-of-batch surface for transfer failures
type BatchError struct {
	Errors []*TransferError
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d of the batch's file transfers failed; re-run deploy to retry them", len(e.Errors))
}

// Summary aggregates one transfer batch's results
type Summary struct {
	Transferred int
	Skipped     int
	Failed      int
	Errors      []*TransferError
}

// Err returns the batch failure when any file failed, nil otherwise
func (s *Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	return &BatchError{Errors: s.Errors}
}

// Synchronizer mirrors the local project tree to the brick. Unchanged
// files are skipped by manifest comparison; transfers run on a bounded
// worker pool over disjoint relative paths.
type Synchronizer struct {
	transport Transport
	manifest  *Manifest
	workers   int
	timeout   time.Duration
}

// NewSynchronizer creates a synchronizer writing through the transport
func NewSynchronizer(transport Transport, manifest *Manifest, workers int, perFileTimeout time.Duration) *Synchronizer {
	if workers < 1 {
		workers = 1
	}
	return &Synchronizer{
		transport: transport,
		manifest:  manifest,
		workers:   workers,
		timeout:   perFileTimeout,
	}
}

// Sync mirrors localRoot under remoteRoot and returns the batch summary.
// The returned error covers only walk or cancellation failures; per-file
// failures land in the summary.
func (s *Synchronizer) Sync(ctx context.Context, localRoot, remoteRoot string, exclude []string) (*Summary, error) {
	items, err := Walk(localRoot, exclude)
	if err != nil {
		return nil, err
	}

	if err := s.transport.MkdirAll(remoteRoot); err != nil {
		return nil, &TransferError{Path: ".", Err: fmt.Errorf("failed to create remote project directory: %w", err)}
	}

	// parents precede children in walk order, so directories go first
	// and serially; files then fan out onto the pool
	summary := &Summary{}
	var files []Item
	for _, item := range items {
		if item.Dir {
			if err := s.transport.MkdirAll(remotePath(remoteRoot, item.Rel)); err != nil {
				return nil, &TransferError{Path: item.Rel, Err: fmt.Errorf("failed to create remote directory: %w", err)}
			}
			continue
		}
		files = append(files, item)
	}

	var mu gosync.Mutex
	p := pool.New().WithMaxGoroutines(s.workers)
	for _, item := range files {
		item := item
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			transferred, err := s.syncFile(ctx, item, remoteRoot)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				summary.Errors = append(summary.Errors, &TransferError{Path: item.Rel, Err: err})
			case transferred:
				summary.Transferred++
			default:
				summary.Skipped++
			}
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// syncFile transfers one file unless its comparison key is unchanged
func (s *Synchronizer) syncFile(ctx context.Context, item Item, remoteRoot string) (bool, error) {
	entry := Entry{
		Size:    item.Size,
		ModTime: item.ModTime,
		Mode:    uint32(item.Mode.Perm()),
	}

	if prev, ok := s.manifest.Lookup(item.Rel); ok {
		if prev.Size == item.Size && prev.ModTime == item.ModTime {
			log.Debug("unchanged, skipping", "path", item.Rel)
			return false, nil
		}
		hash, err := HashFile(item.Abs)
		if err != nil {
			return false, err
		}
		entry.Hash = hash
		if prev.Hash == hash {
			// touched but identical content; refresh the key only
			s.manifest.Set(item.Rel, entry)
			return false, nil
		}
	} else {
		hash, err := HashFile(item.Abs)
		if err != nil {
			return false, err
		}
		entry.Hash = hash
	}

	upCtx := ctx
	cancel := func() {}
	if s.timeout > 0 {
		upCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	if err := s.transport.Upload(upCtx, item.Abs, remotePath(remoteRoot, item.Rel), item.Mode); err != nil {
		return false, err
	}

	s.manifest.Set(item.Rel, entry)
	log.Debug("transferred", "path", item.Rel)
	return true, nil
}

// remotePath joins a relative path under the remote root
func remotePath(remoteRoot, rel string) string {
	return path.Join(remoteRoot, rel)
}

// Describe renders the batch summary in operator-facing form
func (s *Summary) Describe() string {
	parts := []string{
		fmt.Sprintf("%d transferred", s.Transferred),
		fmt.Sprintf("%d skipped", s.Skipped),
	}
	if s.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", s.Failed))
	}
	return strings.Join(parts, ", ")
}
