package remote

import (
	"fmt"
	"net"
	"strconv"

	"github.com/dpmlab/brickctl/internal/config"
)

// Target identifies the brick a session connects to. The host is derived
// deterministically from the group identifier, so the same group always maps
// to the same address.
type Target struct {
	Host string
	Port int
	User string
}

// NewTarget derives the remote target for a group
func NewTarget(s *config.Settings, group int) Target {
	return Target{
		Host: fmt.Sprintf(s.HostTemplate, group),
		Port: s.Port,
		User: s.RemoteUser,
	}
}

// Addr returns the dialable host:port address
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// String returns the operator-facing user@host form
func (t Target) String() string {
	return t.User + "@" + t.Host
}
