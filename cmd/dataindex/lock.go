package main

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// lockFileInfo contains metadata written to the lock file.
type lockFileInfo struct {
	PID       int    `json:"pid"`
	Timestamp int64  `json:"timestamp"`
	Command   string `json:"command"`
}

// lockPath returns the lock file guarding the database at dbPath.
func lockPath(dbPath string) string {
	return dbPath + ".lock"
}

// acquireLock creates the lock file next to the database so that only one
// import or node verification writes copy states at a time. A lock left by
// a dead process is removed. The returned func releases the lock.
func acquireLock(dbPath, command string) (func(), error) {
	path := lockPath(dbPath)

	info := lockFileInfo{
		PID:       os.Getpid(),
		Timestamp: time.Now().Unix(),
		Command:   command,
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock file info: %w", err)
	}

	// O_EXCL makes creation the lock acquisition.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		existing, readErr := readLock(path)
		if readErr != nil {
			return nil, fmt.Errorf("another dataindex process holds %s", path)
		}
		if isProcessRunning(existing.PID) {
			return nil, fmt.Errorf("another dataindex process is running (PID %d, command: %s, started: %s); wait for it or remove %s",
				existing.PID, existing.Command, time.Unix(existing.Timestamp, 0).Format(time.RFC3339), path)
		}
		log.WithFields(logrus.Fields{
			"stale_pid": existing.PID,
			"lock_path": path,
		}).Warn("removing stale lock file from dead process")
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale lock file: %w", err)
		}
		return acquireLock(dbPath, command)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}

	log.WithFields(logrus.Fields{"lock_path": path, "pid": info.PID}).Debug("acquired lock")
	return func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.WithError(err).WithField("lock_path", path).Error("failed to release lock")
		}
	}, nil
}

func readLock(path string) (*lockFileInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info lockFileInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// isProcessRunning checks if a process with the given PID is still running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
