package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateVideoArgs checks user-supplied codec arguments. The runner owns the
// input, output and filter arguments, so those flags are refused here.
func ValidateVideoArgs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("video arguments must not be empty")
	}
	for _, arg := range args {
		switch arg {
		case "-i", "-y", "-n", "-vf", "-filter:v", "-filter_complex", "-c:a", "-acodec":
			return fmt.Errorf("argument %s is managed by the encoder", arg)
		}
		// exec.Command never runs a shell, but these have no business in codec options.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}
