// Package executil runs auxiliary host commands such as startup hooks.
package executil

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
)

// BuildCommand builds an exec.Cmd for command with args and extra env
// entries merged over the parent environment. A command given without
// args is run through the shell.
func BuildCommand(ctx context.Context, command string, args []string, env map[string]string) *exec.Cmd {
	var cmd *exec.Cmd
	if len(args) == 0 {
		cmd = exec.CommandContext(ctx, "/bin/sh", "-c", command)
	} else {
		cmd = exec.CommandContext(ctx, command, args...)
	}

	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}
	return cmd
}

// RunCommand executes a command and returns combined output, exit code
// and error.
func RunCommand(ctx context.Context, command string, args []string, env map[string]string) (string, int, error) {
	cmd := BuildCommand(ctx, command, args, env)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	return output.String(), exitCode, err
}
