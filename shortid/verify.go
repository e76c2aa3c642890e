package shortid

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/kvstore"
)

// Violation is one inconsistency found by Verify.
type Violation struct {
	Map    string
	Key    []byte
	Reason string
}

// VerifyReport is the outcome of a full store verification.
type VerifyReport struct {
	// Checked counts the entries examined per map.
	Checked map[string]int
	// Violations are collected, never repaired.
	Violations []Violation
	// Truncated is set when the violation cap stopped the walk early.
	Truncated bool
}

// Clean reports whether verification found nothing wrong.
func (r VerifyReport) Clean() bool {
	return len(r.Violations) == 0
}

// DefaultVerifyMaxViolations caps how many violations Verify collects before
// giving up. A store that is badly damaged reports the same way as a store
// with one flipped byte, the cap just bounds the report.
const DefaultVerifyMaxViolations = 100

type VerifyOptions struct {
	maxViolations int
}

type VerifyOption func(*VerifyOptions)

func WithVerifyMaxViolations(n int) VerifyOption {
	return func(o *VerifyOptions) {
		o.maxViolations = n
	}
}

var errVerifyStop = errors.New("verify stopped at violation cap")

// Verify walks every mapping table and checks the invariants the store
// relies on: forward values decode as short ids, keys are well formed
// identifiers, and two way tables agree in both directions. It also checks
// the stored counter, when present, has not fallen behind the ids already
// allocated. Violations are reported, not repaired. Store read errors abort
// with the partial report.
func Verify(ctx context.Context, db kvstore.DB, opts ...VerifyOption) (VerifyReport, error) {
	options := VerifyOptions{maxViolations: DefaultVerifyMaxViolations}
	for _, o := range opts {
		o(&options)
	}

	v := verifier{
		max: options.maxViolations,
		rep: VerifyReport{Checked: map[string]int{}},
	}

	maps := map[string]kvstore.Map{}
	for _, name := range MapNames() {
		m, err := db.Map(name)
		if err != nil {
			return v.rep, fmt.Errorf("open %s: %w", name, err)
		}
		maps[name] = m
	}

	checks := []func(context.Context) error{
		func(ctx context.Context) error {
			return v.checkPairedForward(ctx,
				MapEventIDToShort, MapShortToEventID,
				maps[MapEventIDToShort], maps[MapShortToEventID], validEventIDKey)
		},
		func(ctx context.Context) error {
			return v.checkPairedReverse(ctx,
				MapShortToEventID, MapEventIDToShort,
				maps[MapShortToEventID], maps[MapEventIDToShort], validEventIDKey)
		},
		func(ctx context.Context) error {
			return v.checkPairedForward(ctx,
				MapStateKeyToShort, MapShortToStateKey,
				maps[MapStateKeyToShort], maps[MapShortToStateKey], validStateKeyKey)
		},
		func(ctx context.Context) error {
			return v.checkPairedReverse(ctx,
				MapShortToStateKey, MapStateKeyToShort,
				maps[MapShortToStateKey], maps[MapStateKeyToShort], validStateKeyKey)
		},
		func(ctx context.Context) error {
			return v.checkForwardOnly(ctx, MapRoomIDToShort, maps[MapRoomIDToShort], validRoomIDKey)
		},
		func(ctx context.Context) error {
			return v.checkForwardOnly(ctx, MapStateHashToShort, maps[MapStateHashToShort], validStateHashKey)
		},
		v.checkStoredCounter(db),
	}
	for _, check := range checks {
		err := check(ctx)
		if errors.Is(err, errVerifyStop) {
			return v.rep, nil
		}
		if err != nil {
			return v.rep, err
		}
	}
	return v.rep, nil
}

type verifier struct {
	max     int
	maxSeen ShortID
	rep     VerifyReport
}

func (v *verifier) add(mapName string, key []byte, reason string) error {
	v.rep.Violations = append(v.rep.Violations, Violation{
		Map:    mapName,
		Key:    bytes.Clone(key),
		Reason: reason,
	})
	if len(v.rep.Violations) >= v.max {
		v.rep.Truncated = true
		return errVerifyStop
	}
	return nil
}

func (v *verifier) sawShort(short ShortID) {
	if short > v.maxSeen {
		v.maxSeen = short
	}
}

// checkPairedForward walks a forward map whose table also keeps a reverse
// map. Every value must decode, every key must be a well formed identifier,
// and the reverse entry for the value must point back at the key.
func (v *verifier) checkPairedForward(
	ctx context.Context, name, revName string, fwd, rev kvstore.Map,
	validKey func([]byte) error,
) error {
	return fwd.Range(ctx, func(key, value []byte) error {
		v.rep.Checked[name]++
		short, err := ParseShortID(value)
		if err != nil {
			return v.add(name, key, err.Error())
		}
		v.sawShort(short)
		if err = validKey(key); err != nil {
			return v.add(name, key, err.Error())
		}
		back, ok, err := rev.Get(ctx, value)
		if err != nil {
			return fmt.Errorf("%s: %w", revName, err)
		}
		if !ok {
			return v.add(name, key, fmt.Sprintf("%s has no entry for %d", revName, short))
		}
		if !bytes.Equal(back, key) {
			return v.add(name, key, fmt.Sprintf("%s entry for %d resolves to a different identifier", revName, short))
		}
		return nil
	})
}

// checkPairedReverse walks a reverse map. Every key must be a short id,
// every value a well formed identifier, and the forward entry for the value
// must hold this short id.
func (v *verifier) checkPairedReverse(
	ctx context.Context, name, fwdName string, rev, fwd kvstore.Map,
	validValue func([]byte) error,
) error {
	return rev.Range(ctx, func(key, value []byte) error {
		v.rep.Checked[name]++
		short, err := ParseShortID(key)
		if err != nil {
			return v.add(name, key, err.Error())
		}
		v.sawShort(short)
		if err = validValue(value); err != nil {
			return v.add(name, key, err.Error())
		}
		fwdValue, ok, err := fwd.Get(ctx, value)
		if err != nil {
			return fmt.Errorf("%s: %w", fwdName, err)
		}
		if !ok {
			return v.add(name, key, fmt.Sprintf("%s has no entry for this identifier", fwdName))
		}
		if !bytes.Equal(fwdValue, key) {
			return v.add(name, key, fmt.Sprintf("%s holds a different short id for this identifier", fwdName))
		}
		return nil
	})
}

func (v *verifier) checkForwardOnly(
	ctx context.Context, name string, fwd kvstore.Map,
	validKey func([]byte) error,
) error {
	return fwd.Range(ctx, func(key, value []byte) error {
		v.rep.Checked[name]++
		short, err := ParseShortID(value)
		if err != nil {
			return v.add(name, key, err.Error())
		}
		v.sawShort(short)
		if err = validKey(key); err != nil {
			return v.add(name, key, err.Error())
		}
		return nil
	})
}

// checkStoredCounter cross checks the persisted counter against the largest
// short id the walks saw. A counter behind the allocated ids would hand out
// duplicates, which is exactly the failure a restore from a stale snapshot
// produces. Absent counter state is fine, the allocator may be external.
func (v *verifier) checkStoredCounter(db kvstore.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		m, err := db.Map(counter.StoredCounterMap)
		if err != nil {
			return fmt.Errorf("open %s: %w", counter.StoredCounterMap, err)
		}
		key := []byte(counter.StoredCounterKey)
		value, ok, err := m.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("%s: %w", counter.StoredCounterMap, err)
		}
		if !ok {
			return nil
		}
		v.rep.Checked[counter.StoredCounterMap]++
		last, err := ParseShortID(value)
		if err != nil {
			return v.add(counter.StoredCounterMap, key, err.Error())
		}
		if last < v.maxSeen {
			return v.add(counter.StoredCounterMap, key, fmt.Sprintf(
				"stored counter %d is behind max allocated short id %d", last, v.maxSeen))
		}
		return nil
	}
}

func validEventIDKey(b []byte) error {
	_, err := ParseEventID(string(b))
	return err
}

func validStateKeyKey(b []byte) error {
	_, _, err := DecodeStateKey(b)
	return err
}

func validRoomIDKey(b []byte) error {
	_, err := ParseRoomID(string(b))
	return err
}

func validStateHashKey(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty state hash key")
	}
	return nil
}
