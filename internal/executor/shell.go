/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/shlex"
)

const maxOutputSize = 1 << 20 // 1MB per stream

// ExecRunner splits a command line into words with shell quoting rules and
// runs the first word directly. No shell is involved, so operators such as
// ";" or "|" reach the program as plain arguments.
type ExecRunner struct{}

// Run executes command with a deadline. A non-zero exit is reported through
// exitCode; err is reserved for commands that could not run to completion.
func (ExecRunner) Run(ctx context.Context, command string, timeout time.Duration) (int, string, string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return -1, "", "", fmt.Errorf("parse command: %w", err)
	}
	if len(args) == 0 {
		return -1, "", "", errors.New("empty command")
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(execCtx, args[0], args[1:]...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = time.Second

	err = c.Run()
	out, errOut := truncate(stdout.String(), maxOutputSize), truncate(stderr.String(), maxOutputSize)
	if err == nil {
		return 0, out, errOut, nil
	}
	if execCtx.Err() == context.DeadlineExceeded {
		return -1, out, errOut, fmt.Errorf("command timed out after %s", timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), out, errOut, nil
	}
	return -1, out, errOut, err
}
