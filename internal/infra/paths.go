package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	AppName = "paper-go"
)

// GetWorkspaceDir returns the root directory for all runtime data.
// A local "_workspace" directory wins (portable/dev mode); otherwise the OS data dir.
func GetWorkspaceDir() string {
	localDir := "_workspace"
	if _, err := os.Stat(localDir); err == nil {
		return localDir
	}

	var baseDir string
	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, "Library", "Application Support")
	case "linux":
		// XDG_DATA_HOME
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome != "" {
			baseDir = dataHome
		} else {
			home, _ := os.UserHomeDir()
			baseDir = filepath.Join(home, ".local", "share")
		}
	default:
		return localDir
	}

	return filepath.Join(baseDir, AppName)
}

// Paths are the runtime files of one engine identity under a data directory.
type Paths struct {
	Root    string
	Journal string // SQLite command journal
	Dumps   string // crash dumps
}

// ResolvePaths lays out the runtime files of identity under root.
func ResolvePaths(root, identity string) Paths {
	return Paths{
		Root:    root,
		Journal: filepath.Join(root, "journal", identity+".db"),
		Dumps:   filepath.Join(root, "dumps"),
	}
}

// DumpFile is the crash dump path for identity.
func (p Paths) DumpFile(identity string) string {
	return filepath.Join(p.Dumps, "crash_"+identity+".json")
}

// Ensure creates every directory of the layout.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.Root, filepath.Dir(p.Journal), p.Dumps} {
		if err := EnsureDir(dir); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// EnsureDir creates the directory if it doesn't exist (0755).
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CreateLockFile prevents two daemons from driving the same identity.
// It returns a release func, or an error if the lock is already held.
func CreateLockFile(workDir, identity string) (func(), error) {
	lockPath := filepath.Join(workDir, identity+".lock")

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("another instance is already running (lock file exists: %s)", lockPath)
		}
		return nil, err
	}

	// PID for debugging
	fmt.Fprintf(f, "%d", os.Getpid())
	f.Close()

	return func() { os.Remove(lockPath) }, nil
}

// ResolveConfigPath finds config.yaml: current dir first, then the OS config dir.
func ResolveConfigPath() string {
	defaultPath := filepath.Join("configs", "config.yaml")

	if _, err := os.Stat(defaultPath); err == nil {
		return defaultPath
	}

	configRoot, err := os.UserConfigDir()
	if err == nil {
		osPath := filepath.Join(configRoot, AppName, "config.yaml")
		if _, err := os.Stat(osPath); err == nil {
			return osPath
		}
	}

	// LoadConfig reports the missing file.
	return defaultPath
}
