package bd

import (
	"fmt"

	"github.com/ehrlich-b/go-axidma/internal/dmabuf"
	"github.com/ehrlich-b/go-axidma/internal/hw"
	"github.com/ehrlich-b/go-axidma/internal/logging"
	"github.com/ehrlich-b/go-axidma/internal/mmio"
)

// Ring owns a fixed-size closed chain of descriptors in coherent
// memory. Within the ring the driver tracks three cursors:
//
//	head    — oldest descriptor still owned by hardware, next to reap
//	tail    — last descriptor advertised to hardware
//	restart — next free descriptor to fill on Submit
//
// and classifies descriptors into free, pending (filled but not yet
// advertised), and submitted (advertised, not yet reaped) groups.
// Pending collapses into submitted when the channel programs the tail
// pointer, so free+pending+submitted always equals the ring size.
//
// Ring performs no locking; the owning channel serializes all access.
type Ring struct {
	// Halted mirrors the engine run state; the channel flips it on
	// start, stop and reset. The current-descriptor register may only
	// be programmed while true.
	Halted bool

	bds []Descriptor

	head    int
	tail    int
	restart int

	freeCnt    int
	pendingCnt int
	submitCnt  int

	maxLen int

	region   *dmabuf.Region
	ringAddr uintptr

	log *logging.Logger
}

// Create allocates count descriptor slots in one contiguous 64-byte
// aligned reservation, links them into a closed cycle and initializes
// the cursors. maxLen bounds the bytes a single descriptor may carry.
func Create(region *dmabuf.Region, count, maxLen int, log *logging.Logger) (*Ring, error) {
	if count <= 0 {
		return nil, fmt.Errorf("non-positive descriptor count %d: %w", count, ErrInvalidParam)
	}
	if maxLen <= 0 || maxLen > hw.MaxFieldLen {
		return nil, fmt.Errorf("max transfer length %d out of range: %w", maxLen, ErrInvalidParam)
	}
	if log == nil {
		log = logging.Default()
	}

	addr, mem, err := region.Reserve(count*hw.BDSize, hw.BDAlignment)
	if err != nil {
		return nil, fmt.Errorf("reserving %d descriptors: %w", count, err)
	}

	r := &Ring{
		Halted:   true,
		bds:      make([]Descriptor, count),
		freeCnt:  count,
		maxLen:   maxLen,
		region:   region,
		ringAddr: addr,
		log:      log,
	}

	all := mmio.FromSlice(mem)
	for i := range r.bds {
		w, err := all.Window(i*hw.BDSize, hw.BDSize)
		if err != nil {
			region.Release(addr)
			return nil, err
		}
		r.bds[i] = Descriptor{regs: w, phys: addr + uintptr(i*hw.BDSize)}
	}

	// Zero the slots once, then close the next-pointer cycle.
	for i := range r.bds {
		r.bds[i].Clear()
		next := r.bds[(i+1)%count].phys
		if err := r.bds[i].LinkNext(next); err != nil {
			region.Release(addr)
			return nil, err
		}
	}

	log.Debug("ring created", "bds", count, "base", fmt.Sprintf("%#x", addr))
	return r, nil
}

// Destroy releases the descriptor memory. The ring must not be used
// afterwards and the hardware must no longer be walking it.
func (r *Ring) Destroy() error {
	if r.bds == nil {
		return nil
	}
	r.bds = nil
	return r.region.Release(r.ringAddr)
}

// Size returns the descriptor count.
func (r *Ring) Size() int {
	return len(r.bds)
}

// Counts returns the free, pending and submitted group sizes.
func (r *Ring) Counts() (free, pending, submitted int) {
	return r.freeCnt, r.pendingCnt, r.submitCnt
}

// At returns the i-th descriptor. Used by tests and diagnostics.
func (r *Ring) At(i int) *Descriptor {
	return &r.bds[i]
}

// HeadDescAddr returns the physical address of the head descriptor,
// the value the current-descriptor register takes when (re)starting.
func (r *Ring) HeadDescAddr() uintptr {
	return r.bds[r.head].phys
}

// TailDescAddr returns the physical address of the tail descriptor,
// the value the tail-descriptor doorbell takes.
func (r *Ring) TailDescAddr() uintptr {
	return r.bds[r.tail].phys
}

// Submit maps the buffer span [addr, addr+length) onto a contiguous
// run of descriptors starting at the restart cursor, splitting at
// maxLen boundaries. The first descriptor of the run gets SOF, the
// last gets EOF, and tail moves to the run's last descriptor. The run
// joins the pending group; nothing is advertised to hardware here.
//
// On failure no counter or cursor moves: descriptors are only written
// after the free-count check, and a descriptor rejecting the buffer
// span aborts before any counter moves. Descriptors cleared or filled
// before the rejection keep that content until a later Submit
// overwrites them.
func (r *Ring) Submit(addr uintptr, length int) (int, error) {
	if r.bds == nil {
		return 0, ErrNotCreated
	}
	if length <= 0 {
		return 0, fmt.Errorf("non-positive buffer length %d: %w", length, ErrInvalidParam)
	}

	needed := (length + r.maxLen - 1) / r.maxLen
	if needed > r.freeCnt {
		r.log.Error("submit needs more descriptors than free", "needed", needed, "free", r.freeCnt)
		return 0, fmt.Errorf("%d descriptors needed, %d free: %w", needed, r.freeCnt, ErrNoFreeDescriptors)
	}

	start := r.restart
	remaining := length
	offset := 0
	cur := start

	for i := 0; i < needed; i++ {
		chunk := remaining
		if chunk > r.maxLen {
			chunk = r.maxLen
		}

		bd := &r.bds[cur]
		bd.Clear()
		if err := bd.SetBuffer(addr+uintptr(offset), chunk); err != nil {
			return 0, err
		}

		offset += chunk
		remaining -= chunk
		cur = (cur + 1) % len(r.bds)
	}

	r.restart = cur
	r.tail = (cur - 1 + len(r.bds)) % len(r.bds)

	r.bds[start].SetSOF()
	r.bds[r.tail].SetEOF()

	r.freeCnt -= needed
	r.pendingCnt += needed

	r.log.Debug("submit", "len", length, "bds", needed,
		"head", r.head, "tail", r.tail, "restart", r.restart, "free", r.freeCnt)
	return needed, nil
}

// Advertise collapses the pending group into the submitted group and
// returns the tail descriptor address the channel must program, along
// with the number of descriptors moved. A zero count means there is
// nothing new for the hardware.
func (r *Ring) Advertise() (uintptr, int) {
	moved := r.pendingCnt
	if moved == 0 {
		return 0, 0
	}
	r.submitCnt += moved
	r.pendingCnt = 0
	return r.bds[r.tail].phys, moved
}

// Reap walks from head towards tail counting contiguous completed
// descriptors, withholding any run after the final EOF (a packet the
// device has not fully delivered yet). It advances head past the
// reported descriptors and returns them to the free group.
//
// A zero return with completed descriptors present is not an error;
// it means only partial packets have landed so far.
func (r *Ring) Reap() int {
	if r.bds == nil {
		return 0
	}

	// Hardware wrote the status words; order those stores before the
	// scan's loads.
	mmio.CompilerFence()
	mmio.MemFence()
	mmio.IOFence()

	// Only descriptors the hardware owns can complete; bounding the
	// scan keeps a reaped slot's stale status bits from being counted
	// again once head wraps back onto it.
	owned := r.submitCnt + r.pendingCnt
	if owned == 0 {
		return 0
	}

	bdCnt := 0
	partial := 0
	cur := r.head

	for scanned := 0; scanned < owned; scanned++ {
		bd := &r.bds[cur]
		if !bd.Completed() {
			r.log.Debug("reap stopped at uncompleted bd", "index", cur)
			break
		}
		if bd.HadError() {
			r.log.Warn("completed bd carries error status", "index", cur)
			bd.Dump(r.log)
		}

		bdCnt++
		if bd.IsEOF() || bd.RxEOF() {
			partial = 0
		} else {
			partial++
		}

		if cur == r.tail {
			break
		}
		cur = (cur + 1) % len(r.bds)
	}

	bdCnt -= partial
	if bdCnt <= 0 {
		if partial > 0 {
			r.log.Debug("only partial packets completed", "bds", partial)
		}
		return 0
	}

	r.submitCnt -= bdCnt
	r.freeCnt += bdCnt
	r.head = (r.head + bdCnt) % len(r.bds)

	r.log.Debug("reap", "bds", bdCnt, "head", r.head, "free", r.freeCnt)
	return bdCnt
}
