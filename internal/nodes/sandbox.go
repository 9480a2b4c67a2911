package nodes

import (
	"bytes"
	"context"
	"os"
	"os/exec"
)

// Sandbox executes an approved command on behalf of a node. The shell
// sandbox below is the default; deployments can substitute container
// or remote executors.
type Sandbox interface {
	Execute(ctx context.Context, command, workingDir string, env map[string]string) (exitCode int, stdout, stderr string, err error)
}

// ShellSandbox runs commands through /bin/sh on the local host.
type ShellSandbox struct{}

func (ShellSandbox) Execute(ctx context.Context, command, workingDir string, env map[string]string) (int, string, string, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = workingDir
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
		err = nil
	}
	return exitCode, stdout.String(), stderr.String(), err
}
