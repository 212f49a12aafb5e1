//go:build linux

package plugerr

import "golang.org/x/sys/unix"

func currentThreadID() int { return unix.Gettid() }
