//go:build !linux

package taskmill

func pinThread(int) error { return nil }
