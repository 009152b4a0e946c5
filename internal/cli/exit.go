package cli

import (
	"errors"

	"github.com/dpmlab/brickctl/internal/config"
	"github.com/dpmlab/brickctl/internal/remote"
	"github.com/dpmlab/brickctl/internal/sync"
)

// Process exit statuses; each operator-selectable action yields a distinct
// status per failure class.
const (
	// ExitOK means the action succeeded
	ExitOK = 0
	// ExitConfig means the descriptor or usage was invalid
	ExitConfig = 1
	// ExitConnection means the session could not be established or kept
	ExitConnection = 2
	// ExitTransfer means one or more file transfers failed
	ExitTransfer = 3
	// ExitExecution means the entry script failed to start or hung
	ExitExecution = 4
	// ExitReset means the controller stayed unresponsive after a reset
	ExitReset = 5
)

// ExitCode maps an error onto the exit status catalogue
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var resetErr *remote.ResetError
	if errors.As(err, &resetErr) {
		return ExitReset
	}

	var execErr *remote.ExecutionError
	if errors.As(err, &execErr) || errors.Is(err, remote.ErrCommandTimeout) {
		return ExitExecution
	}

	var batchErr *sync.BatchError
	var transferErr *sync.TransferError
	if errors.As(err, &batchErr) || errors.As(err, &transferErr) || errors.Is(err, sync.ErrTransferTimeout) {
		return ExitTransfer
	}

	var connErr *remote.ConnectionError
	if errors.As(err, &connErr) || errors.Is(err, remote.ErrConnectTimeout) {
		return ExitConnection
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	return ExitConfig
}
