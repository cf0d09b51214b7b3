//go:build !linux || !giouring

package irq

import (
	"context"
	"fmt"

	"github.com/ehrlich-b/go-axidma/internal/logging"
)

// URingWaiter is available when built with -tags giouring on Linux;
// other builds fall back to the blocking Serve loop.
type URingWaiter struct{}

func NewURingWaiter(tx, rx *UIO, log *logging.Logger) (*URingWaiter, error) {
	return nil, fmt.Errorf("irq: io_uring waiter not enabled; build with -tags giouring")
}

func (w *URingWaiter) Serve(ctx context.Context, onTX, onRX func() error) error {
	return fmt.Errorf("irq: io_uring waiter not enabled; build with -tags giouring")
}
