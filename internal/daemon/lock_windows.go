//go:build windows

package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type watchLock struct {
	f    *os.File
	path string
}

// acquireLock creates path exclusively and records the holder's pid in it. An
// existing lock file yields ErrAlreadyWatching naming that pid.
func acquireLock(path string) (*watchLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			holder := "unknown"
			if existing, err := os.Open(path); err == nil {
				holder = lockHolder(existing)
				_ = existing.Close()
			}
			return nil, fmt.Errorf("%w (lock %s held by pid %s)", ErrAlreadyWatching, path, holder)
		}
		return nil, err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	return &watchLock{f: f, path: path}, nil
}

func (l *watchLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
	_ = os.Remove(l.path)
}
