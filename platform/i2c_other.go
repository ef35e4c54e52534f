//go:build !linux

package platform

import "weatherstation-go/errcode"

type I2C struct{}

func OpenI2C(string) (*I2C, error) { return nil, errcode.Unsupported }

func (*I2C) String() string                  { return "unsupported" }
func (*I2C) Tx(uint16, []byte, []byte) error { return errcode.Unsupported }
func (*I2C) Close() error                    { return nil }
