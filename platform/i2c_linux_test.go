//go:build linux

package platform

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
)

func TestI2CTxReachesIoctl(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i2c-9")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := OpenI2C(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	if err := b.Tx(0x76, nil, nil); err != nil {
		t.Fatalf("empty transfer got %v want nil", err)
	}
	// A plain file rejects I2C_RDWR; the combined transfer still goes out.
	w := []byte{0xd0}
	r := make([]byte, 1)
	for i := 0; i < 100; i++ {
		if err := b.Tx(0x76, w, r); !errors.Is(err, unix.ENOTTY) {
			t.Fatalf("got %v want %v", err, unix.ENOTTY)
		}
	}
}
