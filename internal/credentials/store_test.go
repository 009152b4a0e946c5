package credentials

import (
	"os"
	"path/filepath"
	"testing"
)

// countingPrompt returns scripted secrets and counts invocations
func countingPrompt(secrets ...string) (PromptFunc, *int) {
	calls := 0
	return func(group int) (string, error) {
		secret := secrets[len(secrets)-1]
		if calls < len(secrets) {
			secret = secrets[calls]
		}
		calls++
		return secret, nil
	}, &calls
}

func TestSecretPromptsOnceAndCaches(t *testing.T) {
	prompt, calls := countingPrompt("hunter2")
	s := NewStore(t.TempDir(), prompt)

	secret, err := s.Secret(12)
	if err != nil {
		t.Fatalf("Secret returned error: %v", err)
	}
	if secret != "hunter2" {
		t.Errorf("Secret = %q, want hunter2", secret)
	}

	// second lookup must come from the cache file
	if _, err := s.Secret(12); err != nil {
		t.Fatalf("cached Secret returned error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("prompt called %d times, want 1", *calls)
	}
}

func TestSecretFilePermissions(t *testing.T) {
	dir := t.TempDir()
	prompt, _ := countingPrompt("hunter2")
	s := NewStore(dir, prompt)

	if _, err := s.Secret(7); err != nil {
		t.Fatalf("Secret returned error: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "credentials.json"))
	if err != nil {
		t.Fatalf("failed to stat credentials file: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("credentials file mode = %o, want 0600", perm)
	}
}

func TestInvalidateForcesReprompt(t *testing.T) {
	prompt, calls := countingPrompt("wrong", "right")
	s := NewStore(t.TempDir(), prompt)

	if _, err := s.Secret(12); err != nil {
		t.Fatalf("Secret returned error: %v", err)
	}
	if err := s.Invalidate(12); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}

	secret, err := s.Secret(12)
	if err != nil {
		t.Fatalf("Secret after invalidation returned error: %v", err)
	}
	if secret != "right" {
		t.Errorf("Secret = %q, want right", secret)
	}
	if *calls != 2 {
		t.Errorf("prompt called %d times, want 2", *calls)
	}
}

func TestSecretsAreScopedPerGroup(t *testing.T) {
	prompt, calls := countingPrompt("one", "two")
	s := NewStore(t.TempDir(), prompt)

	first, _ := s.Secret(1)
	second, _ := s.Secret(2)
	if first == second {
		t.Errorf("groups share a secret: %q", first)
	}
	if *calls != 2 {
		t.Errorf("prompt called %d times, want 2", *calls)
	}
}

func TestEnvOverrideSkipsPromptAndFile(t *testing.T) {
	t.Setenv(EnvPassword, "from-env")
	prompt, calls := countingPrompt("never")
	dir := t.TempDir()
	s := NewStore(dir, prompt)

	secret, err := s.Secret(12)
	if err != nil {
		t.Fatalf("Secret returned error: %v", err)
	}
	if secret != "from-env" {
		t.Errorf("Secret = %q, want from-env", secret)
	}
	if *calls != 0 {
		t.Errorf("prompt called %d times, want 0", *calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "credentials.json")); !os.IsNotExist(err) {
		t.Error("env secret must never be persisted")
	}
}

func TestEmptyPromptRejected(t *testing.T) {
	prompt, _ := countingPrompt("")
	s := NewStore(t.TempDir(), prompt)

	if _, err := s.Secret(12); err == nil {
		t.Fatal("empty secret should be rejected")
	}
}
