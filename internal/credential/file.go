package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/dbguest/internal/executor"
)

// Key is the name of the password entry inside the credential file.
const Key = "dbadmin_password"

// FileStore keeps the credential in a root-owned file of the form
// "dbadmin_password = <secret>". Writes go to TempPath first and are moved
// into place, so readers never observe a partial file.
type FileStore struct {
	Path     string
	TempPath string
	// Runner performs the privileged rename and read. When nil the store
	// uses the local filesystem directly.
	Runner executor.Runner
}

// NewFileStore returns a store for path. tempPath defaults to path + ".tmp".
func NewFileStore(path, tempPath string, runner executor.Runner) *FileStore {
	if tempPath == "" {
		tempPath = path + ".tmp"
	}
	return &FileStore{Path: path, TempPath: tempPath, Runner: runner}
}

// Format renders the file contents for credential.
func Format(credential string) string {
	return fmt.Sprintf("%s = %s\n", Key, credential)
}

// Parse extracts the credential from file contents.
func Parse(contents string) (string, error) {
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) != Key {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, nil
		}
	}
	return "", ErrNotFound
}

func (s *FileStore) Write(ctx context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return &ConfigError{Op: "write", Path: s.Path, Err: errors.New("empty credential")}
	}
	if err := WriteAtomic(ctx, s.Runner, s.Path, s.TempPath, Format(credential)); err != nil {
		return err
	}
	slog.Info("Credential written", "path", s.Path)
	return nil
}

// WriteAtomic writes contents to tempPath and moves it over path. The move
// runs as root through runner, or as a local rename when runner is nil. The
// temp file is removed when the move fails.
func WriteAtomic(ctx context.Context, runner executor.Runner, path, tempPath, contents string) error {
	slog.Debug("Writing temp file", "path", tempPath)
	if dir := filepath.Dir(tempPath); dir != "" {
		_ = os.MkdirAll(dir, 0o750)
	}
	if err := os.WriteFile(tempPath, []byte(contents), 0o600); err != nil {
		return &ConfigError{Op: "write", Path: tempPath, Err: err}
	}

	var err error
	if runner != nil {
		_, err = runner.Run(ctx, executor.AsRoot("mv", tempPath, path))
	} else {
		err = os.Rename(tempPath, path)
	}
	if err != nil {
		_ = os.Remove(tempPath)
		return &ConfigError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *FileStore) Read(ctx context.Context) (string, error) {
	var contents string
	if s.Runner != nil {
		res, err := s.Runner.Run(ctx, executor.AsRoot("cat", s.Path))
		if err != nil {
			return "", &ConfigError{Op: "read", Path: s.Path, Err: err}
		}
		contents = res.Stdout
	} else {
		b, err := os.ReadFile(filepath.Clean(s.Path))
		if err != nil {
			return "", &ConfigError{Op: "read", Path: s.Path, Err: err}
		}
		contents = string(b)
	}
	v, err := Parse(contents)
	if err != nil {
		return "", &ConfigError{Op: "read", Path: s.Path, Err: err}
	}
	return v, nil
}
