package embedconf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Load reads <dataDir>/embed.conf. A missing file yields Defaults.
func Load(dataDir string) (Settings, error) {
	content, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Defaults(), nil
		}
		return Settings{}, fmt.Errorf("read %s: %w", FileName, err)
	}
	return Parse(string(content)), nil
}

// Save writes settings to <dataDir>/embed.conf. The file is replaced with a
// rename while holding an exclusive lock next to it. Settings rejected by
// Validate are not written.
func Save(dataDir string, s Settings) error {
	if err := Validate(s); err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, FileName+".lock"))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", FileName, err)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(dataDir, "."+FileName+"-*")
	if err != nil {
		return fmt.Errorf("create temp settings file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(Serialize(s)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", FileName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, filepath.Join(dataDir, FileName)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", FileName, err)
	}
	return nil
}
