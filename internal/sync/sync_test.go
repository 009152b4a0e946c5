package sync

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"
)

// fakeTransport keeps the "remote" file system in memory
type fakeTransport struct {
	mu        gosync.Mutex
	files     map[string][]byte
	modes     map[string]fs.FileMode
	dirs      map[string]bool
	fail      map[string]bool
	failMkdir map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		files:     make(map[string][]byte),
		modes:     make(map[string]fs.FileMode),
		dirs:      make(map[string]bool),
		fail:      make(map[string]bool),
		failMkdir: make(map[string]bool),
	}
}

func (f *fakeTransport) MkdirAll(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMkdir[path] {
		return errors.New("sftp: permission denied")
	}
	f.dirs[path] = true
	return nil
}

func (f *fakeTransport) Upload(ctx context.Context, local, remote string, mode fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[remote] {
		// the final remote path keeps its old content, as the real
		// transport stages uploads under a temporary name
		return errors.New("injected transfer failure")
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	f.files[remote] = data
	f.modes[remote] = mode
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

const remoteRoot = "/home/pi/projects/demo"

func TestFirstDeployTransfersEverything(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.ctrl":       "entry",
		"utils/remote.py": "lib",
	})
	transport := newFakeTransport()
	s := NewSynchronizer(transport, NewManifest(), 2, time.Second)

	sum, err := s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if sum.Transferred != 2 || sum.Skipped != 0 || sum.Failed != 0 {
		t.Errorf("summary = %+v, want 2 transferred", sum)
	}
	if string(transport.files[remoteRoot+"/main.ctrl"]) != "entry" {
		t.Error("main.ctrl content not mirrored")
	}
	if !transport.dirs[remoteRoot+"/utils"] {
		t.Error("remote directory structure not created")
	}
}

func TestUnchangedRedeployTransfersNothing(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.ctrl":       "entry",
		"utils/remote.py": "lib",
	})
	transport := newFakeTransport()
	manifest := NewManifest()
	s := NewSynchronizer(transport, manifest, 2, time.Second)

	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("first Sync returned error: %v", err)
	}

	sum, err := s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("second Sync returned error: %v", err)
	}
	if sum.Transferred != 0 || sum.Skipped != 2 {
		t.Errorf("summary = %+v, want 0 transferred, 2 skipped", sum)
	}
}

func TestModifiedFileIsTheOnlyTransfer(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.ctrl":       "entry",
		"utils/remote.py": "lib",
		"utils/sound.py":  "lib2",
	})
	transport := newFakeTransport()
	manifest := NewManifest()
	s := NewSynchronizer(transport, manifest, 2, time.Second)

	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("first Sync returned error: %v", err)
	}

	target := filepath.Join(root, "utils", "sound.py")
	if err := os.WriteFile(target, []byte("changed"), 0644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	// ensure the fast size+mtime key actually differs
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(target, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sum, err := s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("second Sync returned error: %v", err)
	}
	if sum.Transferred != 1 {
		t.Errorf("transferred %d files, want exactly the modified one", sum.Transferred)
	}
	if string(transport.files[remoteRoot+"/utils/sound.py"]) != "changed" {
		t.Error("modified content not mirrored")
	}
}

func TestTouchedButIdenticalFileIsSkipped(t *testing.T) {
	root := writeProject(t, map[string]string{"main.ctrl": "entry"})
	transport := newFakeTransport()
	s := NewSynchronizer(transport, NewManifest(), 1, time.Second)

	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("first Sync returned error: %v", err)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(filepath.Join(root, "main.ctrl"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	sum, err := s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("second Sync returned error: %v", err)
	}
	if sum.Transferred != 0 {
		t.Errorf("content-identical file re-transferred: %+v", sum)
	}
}

func TestOneFailureDoesNotAbortTheBatch(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.ctrl":       "entry",
		"utils/remote.py": "lib",
		"utils/sound.py":  "lib2",
	})
	transport := newFakeTransport()
	transport.fail[remoteRoot+"/utils/remote.py"] = true
	manifest := NewManifest()
	s := NewSynchronizer(transport, manifest, 2, time.Second)

	sum, err := s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if sum.Transferred != 2 || sum.Failed != 1 {
		t.Errorf("summary = %+v, want 2 transferred 1 failed", sum)
	}
	if sum.Err() == nil {
		t.Error("batch with failures must surface a non-nil Err")
	}

	// the failed file has no manifest entry, so the next deploy retries
	// it and only it
	if _, ok := manifest.Lookup("utils/remote.py"); ok {
		t.Error("failed transfer must not be recorded in the manifest")
	}

	transport.fail = map[string]bool{}
	sum, err = s.Sync(context.Background(), root, remoteRoot, nil)
	if err != nil {
		t.Fatalf("retry Sync returned error: %v", err)
	}
	if sum.Transferred != 1 || sum.Failed != 0 {
		t.Errorf("retry summary = %+v, want exactly the failed file", sum)
	}
}

func TestDeployThenDeployEqualsOneDeploy(t *testing.T) {
	files := map[string]string{
		"main.ctrl":       "entry",
		"utils/remote.py": "lib",
	}
	root := writeProject(t, files)

	// deploy-only followed by deploy-and-run's deploy phase
	twice := newFakeTransport()
	manifest := NewManifest()
	s := NewSynchronizer(twice, manifest, 2, time.Second)
	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	// one combined deploy from scratch
	once := newFakeTransport()
	s2 := NewSynchronizer(once, NewManifest(), 2, time.Second)
	if _, err := s2.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}

	if len(twice.files) != len(once.files) {
		t.Fatalf("final remote sets differ: %d vs %d files", len(twice.files), len(once.files))
	}
	for path, content := range once.files {
		if string(twice.files[path]) != string(content) {
			t.Errorf("remote file %s differs between the two histories", path)
		}
	}
}

func TestExcludedFilesNeverTransfer(t *testing.T) {
	root := writeProject(t, map[string]string{
		"main.ctrl":   "entry",
		".git/HEAD":   "noise",
		"__cache__/x": "noise",
	})
	transport := newFakeTransport()
	s := NewSynchronizer(transport, NewManifest(), 2, time.Second)

	sum, err := s.Sync(context.Background(), root, remoteRoot, []string{"__cache__"})
	if err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if sum.Transferred != 1 {
		t.Errorf("summary = %+v, want only main.ctrl transferred", sum)
	}
	for path := range transport.files {
		if path != remoteRoot+"/main.ctrl" {
			t.Errorf("unexpected remote file %s", path)
		}
	}
}

func TestExecutableBitPreserved(t *testing.T) {
	root := writeProject(t, map[string]string{"run.sh": "#!/bin/sh\n"})
	if err := os.Chmod(filepath.Join(root, "run.sh"), 0755); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	transport := newFakeTransport()
	s := NewSynchronizer(transport, NewManifest(), 1, time.Second)

	if _, err := s.Sync(context.Background(), root, remoteRoot, nil); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if mode := transport.modes[remoteRoot+"/run.sh"]; mode.Perm()&0111 == 0 {
		t.Errorf("executable bit lost in transfer: mode %o", mode.Perm())
	}
}

func TestRemoteDirectoryFailureIsATransferError(t *testing.T) {
	root := writeProject(t, map[string]string{"utils/remote.py": "lib"})
	transport := newFakeTransport()
	transport.failMkdir[remoteRoot+"/utils"] = true
	s := NewSynchronizer(transport, NewManifest(), 1, time.Second)

	_, err := s.Sync(context.Background(), root, remoteRoot, nil)
	var transferErr *TransferError
	if !errors.As(err, &transferErr) {
		t.Fatalf("Sync error = %v, want TransferError", err)
	}
	if transferErr.Path != "utils" {
		t.Errorf("TransferError path = %q, want the directory that failed", transferErr.Path)
	}
}

func TestCancelledSyncReturnsContextError(t *testing.T) {
	root := writeProject(t, map[string]string{"main.ctrl": "entry"})
	transport := newFakeTransport()
	s := NewSynchronizer(transport, NewManifest(), 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sync(ctx, root, remoteRoot, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Sync error = %v, want context.Canceled", err)
	}
}
