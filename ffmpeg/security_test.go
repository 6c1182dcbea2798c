package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitCommand(t *testing.T) {
	cmd := `-c:v libx264 -preset "very fast" -crf 23`
	expected := []string{"-c:v", "libx264", "-preset", "very fast", "-crf", "23"}

	args, err := SplitCommand(cmd)
	assert.NoError(t, err)
	assert.Equal(t, expected, args)

	_, err = SplitCommand(`-c:v "unterminated`)
	assert.Error(t, err)
}

func TestValidateVideoArgs(t *testing.T) {
	t.Run("Valid codec args", func(t *testing.T) {
		args, _ := SplitCommand(`-c:v libx265 -crf 28 -preset slow`)
		assert.NoError(t, ValidateVideoArgs(args))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Error(t, ValidateVideoArgs(nil))
	})

	t.Run("Managed flag", func(t *testing.T) {
		args, _ := SplitCommand(`-c:v libx264 -i other.mp4`)
		err := ValidateVideoArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "argument -i is managed by the encoder")
	})

	t.Run("Disallowed character (semicolon)", func(t *testing.T) {
		args, _ := SplitCommand(`-c:v libx264; ls`)
		err := ValidateVideoArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: libx264;")
	})

	t.Run("Disallowed character (dollar)", func(t *testing.T) {
		args, _ := SplitCommand(`-c:v libx264 -crf "$(($RANDOM))"`)
		err := ValidateVideoArgs(args)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "disallowed character found in argument: $(($RANDOM))")
	})
}
