package dht

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnanet/dna/dnaerr"
)

// Pinger is the minimal network capability bootstrap needs: reach an
// address and learn the responding node's ID. The transport package
// supplies the concrete implementation; dht only depends on this interface
// so it never imports transport (which depends on dht for spillway lookups).
type Pinger interface {
	Ping(ctx context.Context, addr net.Addr) (ID, error)
}

// BootstrapNode is one statically configured seed address a node dials on
// startup to join the network (spec section 6's bootstrap_nodes config key).
type BootstrapNode struct {
	Address  net.Addr
	LastUsed time.Time
	Success  bool
}

// BootstrapManager drives the process of populating an empty routing table
// from a short list of known-good seed nodes.
type BootstrapManager struct {
	mu          sync.Mutex
	nodes       []*BootstrapNode
	pinger      Pinger
	routing     *RoutingTable
	minNodes    int
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
}

// NewBootstrapManager creates a manager that will try to seed routing with
// at least minNodes live nodes before giving up.
func NewBootstrapManager(pinger Pinger, routing *RoutingTable, seeds []net.Addr, minNodes int) *BootstrapManager {
	nodes := make([]*BootstrapNode, 0, len(seeds))
	for _, addr := range seeds {
		nodes = append(nodes, &BootstrapNode{Address: addr})
	}
	return &BootstrapManager{
		nodes:       nodes,
		pinger:      pinger,
		routing:     routing,
		minNodes:    minNodes,
		maxAttempts: 5,
		backoff:     500 * time.Millisecond,
		maxBackoff:  30 * time.Second,
	}
}

// Bootstrap pings every configured seed, admitting any that respond into
// the routing table, retrying with exponential backoff until minNodes are
// live or maxAttempts is exhausted.
func (bm *BootstrapManager) Bootstrap(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{"function": "BootstrapManager.Bootstrap", "package": "dht"})

	backoff := bm.backoff
	for attempt := 1; attempt <= bm.maxAttempts; attempt++ {
		live := bm.tryAll(ctx)
		logger.WithFields(logrus.Fields{"attempt": attempt, "live": live}).Info("bootstrap attempt complete")
		if live >= bm.minNodes {
			return nil
		}

		select {
		case <-ctx.Done():
			return dnaerr.Timeout("BootstrapManager.Bootstrap")
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > bm.maxBackoff {
			backoff = bm.maxBackoff
		}
	}
	return dnaerr.Network("BootstrapManager.Bootstrap", fmt.Errorf("could not reach %d seed nodes after %d attempts", bm.minNodes, bm.maxAttempts))
}

func (bm *BootstrapManager) tryAll(ctx context.Context) int {
	bm.mu.Lock()
	nodes := append([]*BootstrapNode(nil), bm.nodes...)
	bm.mu.Unlock()

	live := 0
	for _, bn := range nodes {
		id, err := bm.pinger.Ping(ctx, bn.Address)
		bn.LastUsed = time.Now()
		if err != nil {
			bn.Success = false
			continue
		}
		bn.Success = true
		bm.routing.AddNode(NewNode(id, bn.Address))
		live++
	}
	return live
}
