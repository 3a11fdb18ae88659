/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package engine

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultVerb is the only executable allowed to run.
const DefaultVerb = "kubectl"

var (
	// ErrUnsafeCommand is returned for commands that must never reach the shell.
	ErrUnsafeCommand = errors.New("unsafe command")

	// ErrComplexSyntax marks a command carrying substitution, chaining or
	// redirection.
	ErrComplexSyntax = fmt.Errorf("%w: complex shell syntax not allowed", ErrUnsafeCommand)
)

// shellTokens would start a second command or redirect output if the line
// reached a shell.
var shellTokens = []string{"$(", "`", ";", "&", "|", ">", "<", "\n", "\r"}

// CheckCommand verifies that command starts with the exact verb token and
// contains no substitution, chaining or redirection.
func CheckCommand(verb, command string) error {
	fields := strings.Fields(command)
	if len(fields) == 0 || fields[0] != verb {
		return fmt.Errorf("%w: only %s allowed", ErrUnsafeCommand, verb)
	}
	for _, tok := range shellTokens {
		if strings.Contains(command, tok) {
			return ErrComplexSyntax
		}
	}
	return nil
}
