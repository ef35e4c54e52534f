//go:build linux

package platform

import (
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"weatherstation-go/errcode"
)

// From <linux/i2c-dev.h> and <linux/i2c.h>.
const (
	ioctlI2CRdwr = 0x0707
	i2cMsgRead   = 0x0001
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	_     uint16
	buf   uintptr
}

type i2cRdwrData struct {
	msgs  uintptr
	nmsgs uint32
}

// I2C is a Linux i2c-dev adapter. It implements tinygo's drivers.I2C.
type I2C struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenI2C opens an adapter such as /dev/i2c-1.
func OpenI2C(path string) (*I2C, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errcode.Wrap(errcode.SetupFailed, "i2c.open", err)
	}
	return &I2C{f: f, path: path}, nil
}

func (b *I2C) String() string { return b.path }

// Tx writes w then reads r in one combined transfer (repeated start).
// The kernel reads the message array and both buffers through raw addresses,
// so all three are pinned until the ioctl returns.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if len(w) == 0 && len(r) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fd := b.f.Fd()

	var pin runtime.Pinner
	defer pin.Unpin()
	msgs := new([2]i2cMsg)
	pin.Pin(msgs)
	n := 0
	if len(w) > 0 {
		pin.Pin(&w[0])
		msgs[n] = i2cMsg{addr: addr, len: uint16(len(w)), buf: uintptr(unsafe.Pointer(&w[0]))}
		n++
	}
	if len(r) > 0 {
		pin.Pin(&r[0])
		msgs[n] = i2cMsg{addr: addr, flags: i2cMsgRead, len: uint16(len(r)), buf: uintptr(unsafe.Pointer(&r[0]))}
		n++
	}
	data := &i2cRdwrData{msgs: uintptr(unsafe.Pointer(&msgs[0])), nmsgs: uint32(n)}
	pin.Pin(data)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, ioctlI2CRdwr, uintptr(unsafe.Pointer(data)))
	if errno != 0 {
		return errno
	}
	return nil
}

func (b *I2C) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.f.Close()
}
