package counter

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// Flake packs a millisecond timestamp, a worker id and a sequence number into
// one uint64:
//
//	| milliseconds | worker id | sequence |
//	|   40 bits    |  8 bits   | 16 bits  |
//
// Milliseconds count from FlakeEpoch, which gives the layout headroom until
// the 2050s. Uniqueness is the hard requirement; the time relationship is
// approximate.
const (
	FlakeTimeBits   = 40
	FlakeWorkerBits = 8
	FlakeSeqBits    = 16

	FlakeTimeShift   = FlakeWorkerBits + FlakeSeqBits
	FlakeWorkerShift = FlakeSeqBits
	FlakeSeqMask     = (1 << FlakeSeqBits) - 1

	// DefaultAllowSpins bounds the CAS retry loop. Exceeding it means the
	// process is allocating far beyond what one worker id supports, and
	// erroring out throttles the caller naturally.
	DefaultAllowSpins = 100
)

// FlakeEpoch is the zero point of the timestamp field: 2020-01-01T00:00:00Z.
var FlakeEpoch = time.UnixMilli(1577836800000).UTC()

var (
	ErrFlakeOverloaded = errors.New("counter: allocation rate exceeds the flake configuration")
	ErrFlakeSequence   = errors.New("counter: flake produced a non increasing value")
	ErrFlakeClock      = errors.New("counter: system clock reads before the flake epoch")
)

type FlakeConfig struct {
	// WorkerID distinguishes concurrent writers sharing one id space. A
	// single process deployment can leave it zero.
	WorkerID uint8

	// AllowSpins caps CAS retries; zero means a single attempt. Use
	// DefaultAllowSpins unless benchmarking says otherwise.
	AllowSpins int
}

// Flake is a lock free time ordered id source. Unlike Stored it needs no
// store access on allocation, at the cost of id continuity being tied to the
// clock; use it where the stored counter's single write point is a
// bottleneck.
type Flake struct {
	maskedWorkerID uint64
	allowSpins     int

	start      time.Time
	wallOffset time.Duration

	// monotonic holds timestamp and sequence, never the worker bits. It only
	// ever increases; that single invariant carries the uniqueness promise.
	monotonic atomic.Uint64
}

func NewFlake(cfg FlakeConfig) (*Flake, error) {
	if cfg.AllowSpins < 0 {
		return nil, fmt.Errorf("negative spin allowance %d", cfg.AllowSpins)
	}

	f := &Flake{
		maskedWorkerID: uint64(cfg.WorkerID) << FlakeWorkerShift,
		allowSpins:     cfg.AllowSpins,
		// Keep the monotonic clock sample, do not call UTC() here.
		start: time.Now(),
	}
	if f.start.Before(FlakeEpoch) {
		return nil, fmt.Errorf("%w: %v", ErrFlakeClock, f.start)
	}
	f.wallOffset = f.start.Sub(FlakeEpoch)
	return f, nil
}

// nowMS is a monotonic millisecond reading relative to FlakeEpoch. Anchoring
// to the process start time means wall clock adjustments during the process
// life cannot move it backwards.
func (f *Flake) nowMS() uint64 {
	return uint64((time.Since(f.start) + f.wallOffset) / time.Millisecond)
}

func (f *Flake) NextCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// Read-modify-CAS on the monotonic state. The spin bound turns sustained
	// overload into an error instead of an unbounded burn of cpu.
	var next uint64
	for i := 0; i <= f.allowSpins; i++ {
		now := f.nowMS()
		last := f.monotonic.Load()

		lastTime := last >> FlakeTimeShift
		lastSeq := last & FlakeSeqMask

		switch {
		case now > lastTime:
			// Fresh millisecond, sequence restarts at zero.
			next = now << FlakeTimeShift
		case lastSeq == FlakeSeqMask:
			// Sequence exhausted with the clock at or behind lastTime. Force
			// the next millisecond; lastTime >= now so this never goes back.
			next = (lastTime + 1) << FlakeTimeShift
		default:
			next = last + 1
		}

		if next <= last {
			return 0, fmt.Errorf("%016x -> %016x: %w", last, next, ErrFlakeSequence)
		}
		if f.monotonic.CompareAndSwap(last, next) {
			return next | f.maskedWorkerID, nil
		}
		next = 0
	}
	return 0, ErrFlakeOverloaded
}
