// Package cli implements the operator-facing brickctl commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dpmlab/brickctl/internal/config"
	"github.com/dpmlab/brickctl/internal/credentials"
	"github.com/dpmlab/brickctl/internal/remote"
	"github.com/dpmlab/brickctl/internal/sync"
)

// deviceTreeModel identifies the local machine; deploying from the brick
// itself is refused
const deviceTreeModel = "/sys/firmware/devicetree/base/model"

// invocation carries the shared state of one command: one descriptor, one
// credential store, one session, released on every exit path.
type invocation struct {
	descriptor *config.Descriptor
	settings   *config.Settings
	session    *remote.Session
	controller *remote.Controller
	ctx        context.Context
	stop       context.CancelFunc
}

// begin loads configuration, establishes the session, and arms interrupt
// handling so cancellation closes the session cleanly
func begin(cmd *cobra.Command) (*invocation, error) {
	if runningOnBrick() {
		return nil, &config.ConfigError{Reason: "brickctl must run from a computer, not from the brick itself"}
	}

	projectDir, _ := cmd.Flags().GetString("project")
	desc, err := config.Load(projectDir)
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return nil, err
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		settings.Workers = workers
	}

	trustNewHost, _ := cmd.Flags().GetBool("trust-new-host")
	store := credentials.NewStore(config.Dir(), nil)
	verifier := remote.NewVerifier(config.KnownHostsPath(), trustNewHost)
	connector := remote.NewConnector(settings, store, verifier)

	target := remote.NewTarget(settings, desc.Group)
	fmt.Printf("Connecting to %s...\n", target)

	session, err := connector.Connect(desc.Group)
	if err != nil {
		return nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		// unblocks any in-flight remote operation so deferred
		// cleanup runs instead of abandoning a half-open connection
		session.Close()
	}()

	controller := remote.NewController(session, remote.ControllerConfig{
		ProjectPath:    remoteProjectPath(settings, desc),
		Interpreter:    desc.Interpreter,
		ResetHook:      desc.ResetHook,
		CommandTimeout: settings.CommandTimeout,
		ResetGrace:     settings.ResetGrace,
	})
	controller.MarkConnected()

	log.Debug("session established", "target", target.String(), "state", controller.State())

	return &invocation{
		descriptor: desc,
		settings:   settings,
		session:    session,
		controller: controller,
		ctx:        ctx,
		stop:       stop,
	}, nil
}

// close releases the invocation's session and signal handler
func (inv *invocation) close() {
	inv.stop()
	inv.session.Close()
}

// deploy mirrors the project tree to the brick and reports the summary
func (inv *invocation) deploy() (*sync.Summary, error) {
	if err := inv.controller.BeginDeploy(); err != nil {
		return nil, err
	}

	sftpClient, err := inv.session.SFTP()
	if err != nil {
		inv.controller.MarkDisconnected()
		return nil, &remote.ConnectionError{
			Target: inv.session.Target().String(),
			Reason: fmt.Sprintf("failed to open file transfer channel: %v", err),
			Err:    err,
		}
	}
	transport := sync.NewSFTPTransport(sftpClient)
	defer transport.Close()

	manifestPath := sync.ManifestPath(inv.descriptor.ProjectDir())
	manifest, err := sync.LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Deploying %s to %s...\n", inv.descriptor.ProjectName(), inv.session.Target().Host)

	synchronizer := sync.NewSynchronizer(transport, manifest, inv.settings.Workers, inv.settings.TransferTimeout)
	summary, err := synchronizer.Sync(inv.ctx, inv.descriptor.ProjectDir(), remoteProjectPath(inv.settings, inv.descriptor), inv.descriptor.Exclude)
	if summary != nil {
		// persist whatever succeeded so interrupted batches resume
		if saveErr := manifest.Save(manifestPath); saveErr != nil {
			log.Warn("failed to save transfer manifest", "err", saveErr)
		}
	}
	if err != nil {
		// a local walk failure leaves the session healthy; only a link
		// problem or an interrupt costs us the connected state
		if transportFailure(err) || inv.ctx.Err() != nil {
			inv.controller.MarkDisconnected()
		}
		return summary, fmt.Errorf("deploy interrupted: %w", err)
	}

	inv.controller.FinishDeploy()

	if summary.Failed > 0 {
		fmt.Printf("⚠ Deploy finished with failures: %s\n", summary.Describe())
		for _, te := range summary.Errors {
			fmt.Printf("  ✗ %s\n", te)
		}
		return summary, summary.Err()
	}
	fmt.Printf("✓ Deploy complete: %s\n", summary.Describe())
	return summary, nil
}

// transportFailure reports whether a deploy error implicates the link to
// the brick rather than the local project tree
func transportFailure(err error) bool {
	var transferErr *sync.TransferError
	var connErr *remote.ConnectionError
	return errors.As(err, &transferErr) || errors.As(err, &connErr)
}

// remoteProjectPath returns the project directory on the brick
func remoteProjectPath(settings *config.Settings, desc *config.Descriptor) string {
	return path.Join(settings.RemoteRoot, desc.ProjectName())
}

// runningOnBrick probes the device-tree model for a Raspberry Pi
func runningOnBrick() bool {
	data, err := os.ReadFile(deviceTreeModel)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "raspberry")
}
