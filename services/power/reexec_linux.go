//go:build linux

package power

import (
	"os"

	"golang.org/x/sys/unix"
)

func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	return unix.Exec(exe, os.Args, os.Environ())
}
