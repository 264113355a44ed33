package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/dbguest/internal/executor"
	"github.com/loykin/dbguest/internal/executor/executortest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Read(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))

	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))

	require.NoError(t, s.Write(context.Background(), "secret"))
	v, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret", v)
}

func TestGeneratePassword(t *testing.T) {
	p, err := GeneratePassword(0)
	require.NoError(t, err)
	assert.Len(t, p, DefaultPasswordLength)

	q, err := GeneratePassword(32)
	require.NoError(t, err)
	assert.Len(t, q, 32)
	assert.NotEqual(t, p, q)
	for _, r := range q {
		assert.True(t, strings.ContainsRune(passwordAlphabet, r), "unexpected rune %q", r)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "dbadmin_password = abc\n", want: "abc"},
		{in: "# comment\n\ndbadmin_password=xyz", want: "xyz"},
		{in: "other = 1\ndbadmin_password = p\n", want: "p"},
		{in: "dbadmin_password = \n", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestFileStoreLocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(filepath.Join(dir, "vertica.cnf"), "", nil)

	_, err := s.Read(context.Background())
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))

	require.NoError(t, s.Write(context.Background(), "pw1"))
	_, statErr := os.Stat(s.TempPath)
	assert.True(t, os.IsNotExist(statErr), "temp file must be renamed away")

	v, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pw1", v)

	b, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	assert.Equal(t, "dbadmin_password = pw1\n", string(b))
}

func TestFileStoreRejectsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "c"), "", nil)
	err := s.Write(context.Background(), "  ")
	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestFileStorePrivilegedMove(t *testing.T) {
	dir := t.TempDir()
	fake := executortest.New()
	s := NewFileStore("/etc/vertica.cnf", filepath.Join(dir, "vertica.tmp"), fake)

	require.NoError(t, s.Write(context.Background(), "pw"))
	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Root)
	assert.Equal(t, []string{"mv", s.TempPath, "/etc/vertica.cnf"}, calls[0].Argv)
}

func TestFileStoreMoveFailureRemovesTemp(t *testing.T) {
	dir := t.TempDir()
	fake := executortest.New().OnFailure("mv", 1)
	s := NewFileStore("/etc/vertica.cnf", filepath.Join(dir, "vertica.tmp"), fake)

	err := s.Write(context.Background(), "pw")
	require.Error(t, err)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.True(t, executor.IsExecutionError(err))

	_, statErr := os.Stat(s.TempPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFileStorePrivilegedRead(t *testing.T) {
	fake := executortest.New().OnOutput("cat /etc/vertica.cnf", "dbadmin_password = hunter2\n")
	s := NewFileStore("/etc/vertica.cnf", "", fake)

	v, err := s.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	fake.OnFailure("cat", 1)
	_, err = s.Read(context.Background())
	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))
}

func TestWriteAtomicLocal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.conf")
	require.NoError(t, WriteAtomic(context.Background(), nil, path, path+".tmp", "[settings]\nmax=1\n"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[settings]\nmax=1\n", string(b))
	_, statErr := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteAtomicTempUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	err := WriteAtomic(context.Background(), nil, filepath.Join(dir, "x"), filepath.Join(blocker, "sub", "x.tmp"), "data")
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.True(t, strings.HasSuffix(ce.Path, "x.tmp"))
}
