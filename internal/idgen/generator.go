// Package idgen hands out monotonically increasing sequence numbers backed by
// a persistent counter. Numbers are leased from the store in blocks of Step so
// most calls never touch the database.
package idgen

import (
	"context"
	"fmt"
	"sync"

	"label-settlement-go/internal/store"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

const DefaultStep = 100

type lease struct {
	next int64
	last int64
}

// Generator is safe for concurrent use. Numbers left in a lease when the
// process exits are skipped, never reused.
type Generator struct {
	store store.SequenceStore
	step  int64

	mu     sync.Mutex
	leases map[string]*lease

	node *snowflake.Node
}

// NewGenerator builds a generator. nodeId identifies this process for
// snowflake run ids and must be unique per running instance (0-1023).
func NewGenerator(seq store.SequenceStore, step int, nodeId int64) (*Generator, error) {
	if step <= 0 {
		step = DefaultStep
	}
	node, err := snowflake.NewNode(nodeId)
	if err != nil {
		return nil, fmt.Errorf("unable to create snowflake node: %w", err)
	}
	return &Generator{
		store:  seq,
		step:   int64(step),
		leases: make(map[string]*lease),
		node:   node,
	}, nil
}

// Next returns the next number in namespace.
func (g *Generator) Next(ctx context.Context, namespace string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.leases[namespace]
	if !ok || l.next > l.last {
		last, err := g.store.ReserveSequence(ctx, namespace, g.step)
		if err != nil {
			return 0, fmt.Errorf("unable to lease ids for %s: %w", namespace, err)
		}
		l = &lease{next: last - g.step + 1, last: last}
		g.leases[namespace] = l
		zap.L().Debug("Leased id block",
			zap.String("namespace", namespace),
			zap.Int64("from", l.next),
			zap.Int64("to", l.last))
	}

	n := l.next
	l.next++
	return n, nil
}

// OrderId returns a human-readable order id such as "UP1042". The prefix is
// also the sequence namespace, so each prefix counts independently.
func (g *Generator) OrderId(ctx context.Context, prefix string) (string, error) {
	if len(prefix) != 2 {
		return "", fmt.Errorf("order prefix must be two characters, got %q", prefix)
	}
	n, err := g.Next(ctx, "order:"+prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", prefix, n), nil
}

// RunId returns a time-ordered unique id for internal jobs.
func (g *Generator) RunId() string {
	return g.node.Generate().String()
}
