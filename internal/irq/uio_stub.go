//go:build !linux

package irq

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-axidma/internal/logging"
)

// UIO is only available on Linux hosts.
type UIO struct{}

func OpenUIO(path string) (*UIO, error) {
	return nil, fmt.Errorf("irq: UIO not supported on this platform")
}

func (u *UIO) Fd() int               { return -1 }
func (u *UIO) Path() string          { return "" }
func (u *UIO) Enable() error         { return fmt.Errorf("irq: UIO not supported on this platform") }
func (u *UIO) Wait() (uint32, error) { return 0, fmt.Errorf("irq: UIO not supported on this platform") }
func (u *UIO) Close() error          { return nil }

func Serve(ctx context.Context, u *UIO, handle func() error, log *logging.Logger) error {
	return fmt.Errorf("irq: UIO not supported on this platform")
}
