package projectdb

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// writeLock serializes writers to one database file: the mutex between
// goroutines of this process, flock(2) on a sibling lock file between
// processes.
type writeLock struct {
	mu sync.Mutex
	f  *os.File
}

func openLock(dbPath string) (*writeLock, error) {
	f, err := os.OpenFile(dbPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	return &writeLock{f: f}, nil
}

func (l *writeLock) lock() error {
	l.mu.Lock()
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_EX); err != nil {
		l.mu.Unlock()
		return fmt.Errorf("lock %s: %w", l.f.Name(), err)
	}
	return nil
}

func (l *writeLock) unlock() {
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.mu.Unlock()
}

func (l *writeLock) close() error {
	return l.f.Close()
}
