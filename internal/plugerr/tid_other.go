//go:build !linux

package plugerr

func currentThreadID() int { return 0 }
