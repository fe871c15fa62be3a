// Package install adds npm packages to the agentcli cache directory with bun.
package install

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/m4xw311/agentcli/config"
	"github.com/m4xw311/agentcli/errors"
	"github.com/m4xw311/agentcli/logging"
)

// InstallFailedError reports a failed bun invocation.
type InstallFailedError struct {
	Pkg     string
	Version string
	Details string
	Err     error
}

func (e *InstallFailedError) Error() string {
	msg := fmt.Sprintf("failed to install %s@%s", e.Pkg, e.Version)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	return msg
}

func (e *InstallFailedError) Unwrap() error { return e.Err }

// RunFunc runs a command in dir and returns its output.
type RunFunc func(ctx context.Context, dir, name string, args ...string) (stdout, stderr string, err error)

type Installer struct {
	CacheDir string
	Bun      string
	Flags    config.Flags
	Logger   *slog.Logger
	Run      RunFunc
}

type manifest struct {
	Dependencies map[string]string `json:"dependencies"`
}

// DefaultCacheDir is $XDG_CACHE_HOME/agentcli, or ~/.cache/agentcli.
func DefaultCacheDir() (string, error) {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "agentcli"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "could not determine cache directory")
	}
	return filepath.Join(home, ".cache", "agentcli"), nil
}

// New builds an Installer from configuration.
func New(cfg config.Config, logger *slog.Logger) (*Installer, error) {
	dir := cfg.Install.CacheDir
	if dir == "" {
		var err error
		if dir, err = DefaultCacheDir(); err != nil {
			return nil, err
		}
	}
	return &Installer{CacheDir: dir, Bun: "bun", Flags: cfg.Flags, Logger: logger, Run: runCommand}, nil
}

// Install makes pkg@version available and returns its node_modules path.
// A version already recorded in the cache manifest is not reinstalled.
func (i *Installer) Install(ctx context.Context, pkg, version string) (string, error) {
	if version == "" {
		version = "latest"
	}
	log := i.Logger
	if log == nil {
		log = logging.Discard()
	}
	mod := filepath.Join(i.CacheDir, "node_modules", pkg)
	manifestPath := filepath.Join(i.CacheDir, "package.json")

	m, err := readManifest(manifestPath)
	if err != nil {
		return "", err
	}
	if m.Dependencies[pkg] == version {
		return mod, nil
	}

	if i.Flags.DryRun {
		log.Info("[DRY RUN] would install package (skipping actual installation)", "pkg", pkg, "version", version, "targetPath", mod)
		return mod, nil
	}

	run := i.Run
	if run == nil {
		run = runCommand
	}
	bun := i.Bun
	if bun == "" {
		bun = "bun"
	}
	args := []string{"add", "--force", "--exact", "--cwd", i.CacheDir, pkg + "@" + version}
	log.Info("installing package", "pkg", pkg, "version", version, "cmd", append([]string{bun}, args...))

	stdout, stderr, err := run(ctx, i.CacheDir, bun, args...)
	if err != nil {
		parts := []string{err.Error()}
		if stderr != "" {
			parts = append(parts, "stderr: "+stderr)
		}
		if stdout != "" {
			parts = append(parts, "stdout: "+stdout)
		}
		details := strings.Join(parts, "\n")
		log.Error("package installation failed", "pkg", pkg, "version", version, "error", details)
		return "", &InstallFailedError{Pkg: pkg, Version: version, Details: details, Err: err}
	}

	log.Info("package installed successfully", "pkg", pkg, "version", version)
	m.Dependencies[pkg] = version
	if err := writeManifest(manifestPath, m); err != nil {
		return "", err
	}
	return mod, nil
}

// readManifest loads the cache package.json, creating an empty one when it
// is missing or unreadable.
func readManifest(path string) (*manifest, error) {
	m := &manifest{}
	data, err := os.ReadFile(path)
	if err == nil && json.Unmarshal(data, m) == nil {
		if m.Dependencies == nil {
			m.Dependencies = map[string]string{}
		}
		return m, nil
	}
	m.Dependencies = map[string]string{}
	if err := writeManifest(path, m); err != nil {
		return nil, err
	}
	return m, nil
}

func writeManifest(path string, m *manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create cache directory")
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "BUN_BE_BUN=1")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
