//go:build !windows && !js && !wasip1

package pal

import (
	"fmt"
	"os"
	"syscall"
)

// fileLock is the inter-process exclusive-writer guard (Unix: flock),
// adapted from the teacher's storage.fileLock.
type fileLock struct {
	file *os.File
}

func lockFile(path string) (*fileLock, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("pal: open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("pal: database %q is locked by another process", path)
	}

	return &fileLock{file: f}, nil
}

func (fl *fileLock) unlock() error {
	if fl.file == nil {
		return nil
	}
	syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	name := fl.file.Name()
	err := fl.file.Close()
	os.Remove(name)
	return err
}
