//go:build !linux

package power

import "weatherstation-go/errcode"

func reexec() error { return errcode.Unsupported }
