package cmdutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
)

// ExecOptions configures command execution.
type ExecOptions struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout is the maximum execution time.
	// If zero, no timeout is applied.
	Timeout time.Duration

	// Env contains environment variables for the command.
	// Each entry should be in the form "KEY=value". Nil inherits the
	// parent environment.
	Env []string

	// CombinedOutput determines if stdout and stderr are combined.
	CombinedOutput bool

	// Stream, when set, receives the combined output while the command
	// runs. The output is still captured in Result.Output.
	Stream io.Writer
}

// Result contains the result of a command execution.
type Result struct {
	// Stdout is the standard output (only if CombinedOutput is false).
	Stdout []byte

	// Stderr is the standard error (only if CombinedOutput is false).
	Stderr []byte

	// Output is the combined stdout and stderr (only if CombinedOutput is true).
	Output []byte

	// ExitCode is the exit code of the command, -1 if it never started.
	ExitCode int

	// Duration is how long the command took to execute.
	Duration time.Duration
}

// OK reports whether the command exited with status zero.
func (r *Result) OK() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes external commands. ExecRunner is the os/exec
// implementation; tests substitute recording fakes.
type Runner interface {
	Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	return Run(ctx, opts, cmdParts)
}

// Run executes a command with the given options.
// The command is provided as a slice of arguments (command and its arguments).
// The returned Result is never nil. A non-zero exit status is reported as
// an error wrapping *exec.ExitError with Result.ExitCode set.
func Run(ctx context.Context, opts ExecOptions, cmdParts []string) (*Result, error) {
	if len(cmdParts) == 0 {
		return &Result{ExitCode: -1}, fmt.Errorf("empty command")
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, cmdParts[0], cmdParts[1:]...)
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env

	start := time.Now()

	var result Result
	var err error

	switch {
	case opts.Stream != nil:
		var buf bytes.Buffer
		w := io.MultiWriter(&buf, opts.Stream)
		cmd.Stdout = w
		cmd.Stderr = w
		err = cmd.Run()
		result.Output = buf.Bytes()
	case opts.CombinedOutput:
		result.Output, err = cmd.CombinedOutput()
	default:
		result.Stdout, err = cmd.Output()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Stderr = exitErr.Stderr
		}
	}

	result.Duration = time.Since(start)

	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	} else if err != nil {
		result.ExitCode = -1
	}

	if err != nil {
		return &result, fmt.Errorf("command failed: %w", err)
	}

	return &result, nil
}

// ParseCommandString parses a shell-quoted command string into parts.
//
// Example:
//
//	"mvn -Dmaven.test.skip=true package" -> ["mvn", "-Dmaven.test.skip=true", "package"]
func ParseCommandString(cmdStr string) ([]string, error) {
	parts, err := shellquote.Split(cmdStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command string: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty command string")
	}
	return parts, nil
}

// ParseCommandList parses a command that can be either a string or a list.
// This handles the two formats from YAML configuration:
//   - String format: "ant dist2"
//   - List format: ["ant", "dist2"]
func ParseCommandList(cmd interface{}) ([]string, error) {
	switch v := cmd.(type) {
	case string:
		return ParseCommandString(v)
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("command list item %d is not a string: %T", i, item)
			}
			parts[i] = str
		}
		if len(parts) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return parts, nil
	case []string:
		if len(v) == 0 {
			return nil, fmt.Errorf("empty command list")
		}
		return v, nil
	default:
		return nil, fmt.Errorf("invalid command type: %T (must be string or list)", cmd)
	}
}

// ParseCommands parses every entry of a YAML command list. Entries that
// are themselves shell strings containing an unquoted ";" are split into
// separate commands so "mvn clean; mvn package" keeps working without a
// shell.
func ParseCommands(cmds []interface{}) ([][]string, error) {
	var out [][]string
	for i, c := range cmds {
		if s, ok := c.(string); ok && strings.Contains(s, ";") {
			for _, piece := range splitCommands(s) {
				if strings.TrimSpace(piece) == "" {
					continue
				}
				parts, err := ParseCommandString(piece)
				if err != nil {
					return nil, fmt.Errorf("command %d: %w", i, err)
				}
				out = append(out, parts)
			}
			continue
		}
		parts, err := ParseCommandList(c)
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		out = append(out, parts)
	}
	return out, nil
}

// splitCommands splits s on semicolons outside single or double quotes.
// Backslash escapes are honored outside single quotes, as in sh.
func splitCommands(s string) []string {
	var (
		pieces []string
		quote  rune
		escape bool
		start  int
	)
	for i, r := range s {
		switch {
		case escape:
			escape = false
		case r == '\\' && quote != '\'':
			escape = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == ';':
			pieces = append(pieces, s[start:i])
			start = i + 1
		}
	}
	return append(pieces, s[start:])
}

// FormatCommand formats command parts into a readable string for logging.
// Example: ["jar", "cf", "my lib.jar"] -> "jar cf 'my lib.jar'"
func FormatCommand(cmdParts []string) string {
	if len(cmdParts) == 0 {
		return "<empty command>"
	}

	quoted := make([]string, len(cmdParts))
	for i, part := range cmdParts {
		if strings.ContainsAny(part, " \t\n\"'") {
			quoted[i] = shellquote.Join(part)
		} else {
			quoted[i] = part
		}
	}

	return strings.Join(quoted, " ")
}

// SanitizeOutput removes sensitive information from command output.
func SanitizeOutput(output []byte, secrets []string) []byte {
	sanitized := string(output)
	for _, secret := range secrets {
		if secret != "" {
			sanitized = strings.ReplaceAll(sanitized, secret, "***REDACTED***")
		}
	}
	return []byte(sanitized)
}
