package validation

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileValidatorValidateFile(t *testing.T) {
	v := NewFileValidator(testLogger())
	dir := t.TempDir()

	path := filepath.Join(dir, "results.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "existing file", path: path},
		{name: "missing file", path: filepath.Join(dir, "nope.xlsx"), wantErr: "does not exist"},
		{name: "directory", path: dir, wantErr: "is a directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateFile(tt.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFileValidatorValidateWorkbookFile(t *testing.T) {
	v := NewFileValidator(testLogger())
	dir := t.TempDir()

	for _, name := range []string{"results.xlsx", "legacy.xls", "notes.txt", "~$results.xlsx"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{name: "xlsx accepted", file: "results.xlsx"},
		{name: "xls accepted", file: "legacy.xls"},
		{name: "wrong extension", file: "notes.txt", wantErr: "not an Excel workbook"},
		{name: "lock file", file: "~$results.xlsx", wantErr: "lock file"},
		{name: "missing file", file: "gone.xlsx", wantErr: "does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateWorkbookFile(filepath.Join(dir, tt.file))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFileValidatorValidateOutputDirectory(t *testing.T) {
	v := NewFileValidator(testLogger())

	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data", "exports")
		require.NoError(t, v.ValidateOutputDirectory(dir))

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		// The probe file does not survive validation.
		_, err = os.Stat(filepath.Join(dir, ".write_probe"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("existing directory passes", func(t *testing.T) {
		assert.NoError(t, v.ValidateOutputDirectory(t.TempDir()))
	})

	t.Run("rejects path through a file", func(t *testing.T) {
		blocker := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

		err := v.ValidateOutputDirectory(filepath.Join(blocker, "sub"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "create output directory")
	})
}

func TestFileValidatorCountFiles(t *testing.T) {
	v := NewFileValidator(testLogger())
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.csv"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	count, err := v.CountFiles(dir, "*.json")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "directories matching the pattern are not counted")

	count, err = v.CountFiles(dir, "*.xlsx")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNewFileValidatorNilLogger(t *testing.T) {
	v := NewFileValidator(nil)
	require.NotNil(t, v)
	assert.NoError(t, v.ValidateOutputDirectory(t.TempDir()))
}
