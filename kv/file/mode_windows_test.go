//go:build windows

package file

func runtimeSupportsModes() bool { return false }
