package store

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Lease is a timestamp lock: it is held while now < Until. The stored value
// is the expiry in unix milliseconds, optionally followed by "|owner".
type Lease struct {
	Until time.Time
	Owner string
	raw   string
}

// Active reports whether the lease still blocks other holders at now.
func (l Lease) Active(now time.Time) bool {
	return now.Before(l.Until)
}

// EncodeLease formats a lease value as other clients expect to find it.
func EncodeLease(until time.Time, owner string) string {
	v := strconv.FormatInt(until.UnixMilli(), 10)
	if owner != "" {
		v += "|" + owner
	}
	return v
}

// parseLease tolerates foreign values: anything unparsable is an expired lease.
func parseLease(raw string) Lease {
	ts, owner, _ := strings.Cut(raw, "|")
	ms, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
	if err != nil {
		return Lease{raw: raw}
	}
	return Lease{Until: time.UnixMilli(ms), Owner: owner, raw: raw}
}

// ReadLease returns the lease stored under key; a missing key is a zero lease.
func ReadLease(ctx context.Context, s Store, key string) (Lease, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil {
		return Lease{}, err
	}
	if !ok {
		return Lease{}, nil
	}
	return parseLease(raw), nil
}

// AcquireLease takes the lease for owner until now+ttl unless another lease is
// active. The swap is conditional on the value read, so two contenders for
// the same expired lease cannot both win.
func AcquireLease(ctx context.Context, s Store, key, owner string, now time.Time, ttl time.Duration) (Lease, bool, error) {
	current, err := ReadLease(ctx, s, key)
	if err != nil {
		return Lease{}, false, err
	}
	if current.Active(now) {
		return current, false, nil
	}
	next := Lease{Until: now.Add(ttl), Owner: owner}
	next.raw = EncodeLease(next.Until, owner)
	// The store TTL outlives the lease slightly so readers still see it
	// expire through the timestamp rather than through eviction.
	ok, err := s.CompareAndSwap(ctx, key, current.raw, next.raw, ttl+time.Second)
	if err != nil {
		return Lease{}, false, err
	}
	if !ok {
		held, err := ReadLease(ctx, s, key)
		if err != nil {
			return Lease{}, false, err
		}
		return held, false, nil
	}
	return next, true, nil
}
