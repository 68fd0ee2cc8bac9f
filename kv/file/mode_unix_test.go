//go:build unix

package file

func runtimeSupportsModes() bool { return true }
