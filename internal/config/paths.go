package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths contains the resolved on-disk locations of the three local license
// stores. The plaintext cache, the opaque artifact, and the tamper-digest
// config file are logically distinct and must never share a file.
type Paths struct {
	DataDir      string
	CacheFile    string
	ArtifactFile string
	TamperFile   string
	LogsDir      string
}

// resolvePaths anchors relative paths at the executable directory, never the
// current working directory, so the stores stay stable across launch contexts.
func (c *Config) resolvePaths() error {
	exeDir, err := executableDir()
	if err != nil {
		return err
	}

	c.Paths.DataDir = anchor(exeDir, c.Paths.DataDir)
	c.Paths.LogsDir = anchor(exeDir, c.Paths.LogsDir)
	c.Paths.CacheFile = anchor(c.Paths.DataDir, c.Paths.CacheFile)
	c.Paths.ArtifactFile = anchor(c.Paths.DataDir, c.Paths.ArtifactFile)
	c.Paths.TamperFile = anchor(c.Paths.DataDir, c.Paths.TamperFile)
	c.Logging.FilePath = anchor(c.Paths.LogsDir, filepath.Base(c.Logging.FilePath))

	return nil
}

// ResolvedPaths returns the fully resolved path set.
func (c *Config) ResolvedPaths() Paths {
	return Paths{
		DataDir:      c.Paths.DataDir,
		CacheFile:    c.Paths.CacheFile,
		ArtifactFile: c.Paths.ArtifactFile,
		TamperFile:   c.Paths.TamperFile,
		LogsDir:      c.Paths.LogsDir,
	}
}

// EnsureDirectories creates the data and logs directories if missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

func executableDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

func anchor(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// FileExists reports whether path exists and is a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
