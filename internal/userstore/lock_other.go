//go:build !unix

package userstore

import "os"

// Advisory locking is unix only; elsewhere writers rely on the in-process
// mutex alone.
func tryLockFile(*os.File) (bool, error) { return true, nil }

func unlockFile(*os.File) error { return nil }
