// Package session derives the on-disk layout of an archive profile.
//
// Every profile lives under $WPPARCHIVE_HOME/sessions/<name> and holds the
// WhatsApp device store, the archive database, the mirrored media tree,
// store backups, logs and the daemon socket.
package session

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory when set.
const HomeEnv = "WPPARCHIVE_HOME"

const (
	socketFile    = "daemon.sock"
	deviceDBFile  = "session.db"
	archiveDBFile = "archive.db"
	logFile       = "archived.log"

	mediaDir  = "media"
	backupDir = "backups"
	logDir    = "logs"
)

// BaseDir returns $WPPARCHIVE_HOME, or ~/.wpparchive.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wpparchive")
}

// ConfigPath returns the config file shared by all sessions.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Dir returns the directory of session name.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

func within(name string, elem ...string) string {
	return filepath.Join(append([]string{Dir(name)}, elem...)...)
}

func SocketPath(name string) string    { return within(name, socketFile) }
func SessionDBPath(name string) string { return within(name, deviceDBFile) }
func ArchiveDBPath(name string) string { return within(name, archiveDBFile) }

// MediaRoot is the default root of the mirrored file tree. The config file
// can move it elsewhere.
func MediaRoot(name string) string { return within(name, mediaDir) }

// BackupDir holds the store snapshots reconciliation takes.
func BackupDir(name string) string { return within(name, backupDir) }

func LogDir(name string) string  { return within(name, logDir) }
func LogPath(name string) string { return within(name, logDir, logFile) }

// EnsureDir creates the session tree, owner-only. The media root is left to
// the exporter since it may live outside the session.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name), BackupDir(name)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
