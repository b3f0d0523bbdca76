package relpipe

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultGracePeriod is how long a cancelled collaborator is given to stop
// after being signalled, before it is killed outright.
const DefaultGracePeriod = 5 * time.Second

func init() {
	RegisterExecutor(DefaultExecutorID, func() Executor {
		return NewShellExecutor()
	})
}

// ShellExecutor runs a step's command as a local child process. It is the
// default external collaborator: the orchestrator consumes only the exit
// status and any artifact refs the process reports as JSON-line messages on
// stdout (see Message). All other stdout lines are forwarded to the logger.
//
// Cancellation is cooperative: on context cancellation the process receives
// an interrupt and is given the grace period to stop; after that it is
// killed and the step is treated as cancelled regardless.
type ShellExecutor struct {
	// GracePeriod bounds how long a cancelled process may keep running.
	GracePeriod time.Duration
	// Logger receives the collaborator's log output. Defaults to the no-op
	// logger.
	Logger Logger
}

// NewShellExecutor creates a shell executor with default grace period and a
// no-op logger.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{
		GracePeriod: DefaultGracePeriod,
		Logger:      NewDefaultLogger(),
	}
}

// Execute runs the step's command and blocks until it exits or the context
// is cancelled and the grace period elapses.
func (e *ShellExecutor) Execute(ctx context.Context, inv Invocation) (Outcome, error) {
	if len(inv.Step.Command) == 0 {
		return Outcome{}, fmt.Errorf("step '%s' has no command", inv.Step.Name)
	}

	cmd := exec.Command(inv.Step.Command[0], inv.Step.Command[1:]...)
	cmd.Dir = inv.Step.Dir
	cmd.Env = append(os.Environ(), buildEnv(inv)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return Outcome{}, fmt.Errorf("failed to start step '%s': %w", inv.Step.Name, err)
	}

	// Collect artifact refs reported by the collaborator while it runs.
	var artifacts []string
	scanned := make(chan struct{})
	go func() {
		defer close(scanned)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := scanner.Bytes()

			var msg Message
			if err := json.Unmarshal(line, &msg); err != nil || msg.Type == "" {
				e.Logger.Info("%s | %s", inv.Step.Name, scanner.Text())
				continue
			}

			switch msg.Type {
			case MessageTypeArtifact:
				var p ArtifactPayload
				if err := json.Unmarshal(msg.Payload, &p); err == nil && p.Ref != "" {
					artifacts = append(artifacts, p.Ref)
				}
			case MessageTypeLog:
				var text string
				if err := json.Unmarshal(msg.Payload, &text); err == nil {
					e.Logger.Info("%s | %s", inv.Step.Name, text)
				}
			}
		}
	}()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		// Ask the collaborator to stop, then wait out the grace period.
		_ = cmd.Process.Signal(os.Interrupt)

		grace := e.GracePeriod
		if grace <= 0 {
			grace = DefaultGracePeriod
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()

		select {
		case <-done:
		case <-timer.C:
			_ = cmd.Process.Kill()
			<-done
		}
		<-scanned
		return Outcome{ExitCode: -1, ArtifactRefs: artifacts}, ctx.Err()
	}

	<-scanned

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return Outcome{ExitCode: -1, ArtifactRefs: artifacts},
				fmt.Errorf("step '%s' did not run: %w", inv.Step.Name, err)
		}
	}

	return Outcome{ExitCode: exitCode, ArtifactRefs: artifacts}, nil
}

// buildEnv flattens the step's environment variables and resolved
// credentials into the form exec.Cmd expects.
func buildEnv(inv Invocation) []string {
	env := make([]string, 0, len(inv.Step.Env)+len(inv.Credentials)+2)
	for k, v := range inv.Step.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range inv.Credentials {
		env = append(env, k+"="+v)
	}
	env = append(env, "PIPELINE_COMMIT_REF="+inv.CommitRef)
	env = append(env, "PIPELINE_VARIANT="+inv.Variant)
	return env
}
