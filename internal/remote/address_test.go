package remote

import (
	"testing"

	"github.com/dpmlab/brickctl/internal/config"
)

func TestNewTargetIsDeterministic(t *testing.T) {
	settings := &config.Settings{HostTemplate: "dpm-%d.local", Port: 22, RemoteUser: "pi"}

	a := NewTarget(settings, 12)
	b := NewTarget(settings, 12)
	if a != b {
		t.Errorf("same group produced different targets: %v vs %v", a, b)
	}

	if a.Host != "dpm-12.local" {
		t.Errorf("Host = %q, want dpm-12.local", a.Host)
	}
	if a.Addr() != "dpm-12.local:22" {
		t.Errorf("Addr = %q, want dpm-12.local:22", a.Addr())
	}
	if a.String() != "pi@dpm-12.local" {
		t.Errorf("String = %q, want pi@dpm-12.local", a.String())
	}
}

func TestNewTargetDistinctGroups(t *testing.T) {
	settings := &config.Settings{HostTemplate: "dpm-%d.local", Port: 22, RemoteUser: "pi"}

	if NewTarget(settings, 1).Host == NewTarget(settings, 2).Host {
		t.Error("distinct groups mapped to the same host")
	}
}
