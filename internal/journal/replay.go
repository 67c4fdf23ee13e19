package journal

import (
	"context"
	"fmt"
	"slices"

	"github.com/roach88/jsonsync/internal/mark"
	"github.com/roach88/jsonsync/internal/op"
	"github.com/roach88/jsonsync/internal/replica"
	"github.com/roach88/jsonsync/internal/value"
)

// Order is a delivery order for replay.
type Order string

const (
	// OrderArrival delivers operations one at a time as they were journaled.
	OrderArrival Order = "arrival"
	// OrderReverse delivers them one at a time, newest first.
	OrderReverse Order = "reverse"
	// OrderMark delivers them as a single diff.
	OrderMark Order = "mark"
)

// Orders lists every replay order.
var Orders = []Order{OrderArrival, OrderReverse, OrderMark}

// ParseOrder validates an order name.
func ParseOrder(s string) (Order, error) {
	for _, o := range Orders {
		if string(o) == s {
			return o, nil
		}
	}
	return "", fmt.Errorf("unknown replay order %q (want arrival, reverse or mark)", s)
}

// ReplayResult is the outcome of replaying one replica's journal.
type ReplayResult struct {
	Replica  string
	Order    Order
	Ops      int
	Content  value.Value
	Digest   string
	Recorded string // last digest the live replica saved, "" if none
	Match    bool   // Digest equals Recorded
}

// Replay rebuilds a replica's content in a fresh standalone replica by
// merging its journaled operations in the given order. Every order must
// reach the digest the live replica recorded.
func (s *Store) Replay(ctx context.Context, name string, order Order, opts ...replica.Option) (ReplayResult, error) {
	rec, err := s.ReadReplica(ctx, name)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", name, err)
	}
	records, err := s.ReadOps(ctx, name)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", name, err)
	}
	ops := make([]op.Operation, len(records))
	for i, r := range records {
		ops[i] = r.Op
	}

	all := append([]replica.Option{replica.WithValue(rec.Initial), replica.WithName(name + "/replay")}, opts...)
	fresh, err := replica.New(nil, all...)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", name, err)
	}

	switch order {
	case OrderArrival:
		err = mergeEach(fresh, ops)
	case OrderReverse:
		reversed := slices.Clone(ops)
		slices.Reverse(reversed)
		err = mergeEach(fresh, reversed)
	case OrderMark:
		sorted := slices.Clone(ops)
		slices.SortFunc(sorted, func(a, b op.Operation) int { return mark.Compare(a.Mark, b.Mark) })
		err = fresh.Merge(sorted)
	default:
		err = fmt.Errorf("unknown replay order %q", order)
	}
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s (%s): %w", name, order, err)
	}

	digest, err := fresh.Digest()
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", name, err)
	}
	result := ReplayResult{
		Replica: name,
		Order:   order,
		Ops:     len(ops),
		Content: fresh.Content(),
		Digest:  digest,
	}
	if latest, ok, err := s.LatestDigest(ctx, name); err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", name, err)
	} else if ok {
		result.Recorded = latest.Digest
		result.Match = latest.Digest == digest
	}
	return result, nil
}

func mergeEach(r *replica.Replica, ops []op.Operation) error {
	for _, o := range ops {
		if err := r.Merge([]op.Operation{o}); err != nil {
			return err
		}
	}
	return nil
}
