package security

import (
	"context"
	"fmt"
	"maps"
	"os/exec"
	"strings"
)

// DefaultAllowedCommands is the default set of commands allowed for
// build, migration and self-check hooks configured in apps.yaml.
var DefaultAllowedCommands = map[string]bool{
	"git":       true,
	"composer":  true,
	"npm":       true,
	"npx":       true,
	"yarn":      true,
	"pnpm":      true,
	"php":       true,
	"node":      true,
	"python":    true,
	"python3":   true,
	"bundle":    true,
	"rake":      true,
	"rails":     true,
	"make":      true,
	"go":        true,
	"rsync":     true,
	"cp":        true,
	"mv":        true,
	"mysqldump": true,
	"pg_dump":   true,
	"systemctl": true,
	"nginx":     true,
}

// SandboxedExecutor provides safe command execution with validation.
// Commands run without a shell, and arguments are screened for shell
// metacharacters so values from configuration cannot smuggle in extra
// commands.
type SandboxedExecutor struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// WorkDir is the working directory for command execution.
	WorkDir string

	// Env contains environment variables for the command.
	Env []string

	// AllowShellMetachars allows shell metacharacters in arguments (DANGEROUS!).
	// This should almost always be false.
	AllowShellMetachars bool
}

// NewSandboxedExecutor creates a new sandboxed executor with default settings.
// The allowlist is copied, so AddAllowedCommand never widens the defaults for
// other executors.
func NewSandboxedExecutor(workDir string) *SandboxedExecutor {
	return &SandboxedExecutor{
		AllowedCommands:     maps.Clone(DefaultAllowedCommands),
		WorkDir:             workDir,
		AllowShellMetachars: false,
	}
}

// Execute runs a command with validation and sandboxing.
// Returns the combined stdout/stderr output and any error.
func (e *SandboxedExecutor) Execute(ctx context.Context, cmdParts []string) ([]byte, error) {
	if err := e.ValidateCommandParts(cmdParts); err != nil {
		return nil, err
	}

	// No shell involved, so no shell injection
	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = e.WorkDir
	cmd.Env = e.Env

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("command failed: %w", err)
	}

	return output, nil
}

// ValidateCommandParts validates a command before execution.
// This can be used to pre-validate commands at config load time.
func (e *SandboxedExecutor) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]
	if !e.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s", baseCmd)
	}

	if !e.AllowShellMetachars {
		for i, arg := range cmdParts[1:] {
			if containsShellMetachars(arg) {
				return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
			}
		}
	}

	return nil
}

// AddAllowedCommand adds a command to the allowed list.
// Use with caution - only add commands you trust.
func (e *SandboxedExecutor) AddAllowedCommand(cmd string) {
	if e.AllowedCommands == nil {
		e.AllowedCommands = make(map[string]bool)
	}
	e.AllowedCommands[cmd] = true
}

// IsCommandAllowed checks if a command is in the allowed list.
func (e *SandboxedExecutor) IsCommandAllowed(cmd string) bool {
	return e.AllowedCommands[cmd]
}

// containsShellMetachars checks if a string contains shell metacharacters.
// These characters can be used for command injection attacks.
func containsShellMetachars(s string) bool {
	dangerous := []string{
		";",  // Command separator
		"|",  // Pipe
		"&",  // Background/AND
		"$",  // Variable expansion
		"`",  // Command substitution
		"\n", // Newline (command separator)
		">",  // Redirect output
		"<",  // Redirect input
		"(",  // Subshell start
		")",  // Subshell end
		"{",  // Brace expansion start
		"}",  // Brace expansion end
		"*",  // Glob wildcard
		"?",  // Glob single char
		"[",  // Glob character class
		"]",  // Glob character class end
		"\\", // Escape character
		"'",  // Single quote (can bypass some protections)
		"\"", // Double quote (can bypass some protections)
	}

	for _, char := range dangerous {
		if strings.Contains(s, char) {
			return true
		}
	}

	return false
}
