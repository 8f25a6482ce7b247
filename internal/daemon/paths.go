package daemon

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func protectedDir(home string) string {
	return filepath.Join(home, "protected")
}

func pidPath(home string) string {
	return filepath.Join(protectedDir(home), "watch.pid")
}

func lockPath(home string) string {
	return filepath.Join(protectedDir(home), "watch.lock")
}

func addrPath(home string) string {
	return filepath.Join(protectedDir(home), "watch.addr")
}

// LogPath is where a detached watcher writes its log.
func LogPath(home string) string {
	return filepath.Join(protectedDir(home), "watch.log")
}

// lockHolder reads the pid a watcher wrote into its lock file.
func lockHolder(f *os.File) string {
	b, err := io.ReadAll(io.NewSectionReader(f, 0, 32))
	if err != nil && len(b) == 0 {
		return "unknown"
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(b))); err == nil && pid > 0 {
		return strconv.Itoa(pid)
	}
	return "unknown"
}
