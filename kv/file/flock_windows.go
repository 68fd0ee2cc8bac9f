//go:build windows

package file

// flockExclusive is a no-op on Windows; only the in-process mutex applies.
func flockExclusive(fd int) error {
	return nil
}

func flockUnlock(fd int) error {
	return nil
}

func isLockNotSupportedError(err error) bool {
	return false
}
