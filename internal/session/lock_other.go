//go:build !unix

package session

import "os"

// Without flock only the in-process lock applies.
func tryLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }
