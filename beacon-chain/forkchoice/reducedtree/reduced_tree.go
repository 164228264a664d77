// Package reducedtree implements LMD-GHOST fork choice over a compressed
// view of the block DAG. Only the finalized block, blocks carrying direct
// attestations, and least-common-ancestors of attested branches are
// materialized, bounding the tree by the number of attesting validators
// rather than the number of blocks. Intermediate blocks are resolved on
// demand through the store's parent links.
package reducedtree

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	eth2types "github.com/prysmaticlabs/eth2-types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/iface"
)

var log = logrus.WithField("prefix", "forkchoice")

// WeightFn resolves a validator index to the weight its latest vote
// carries, typically the validator's effective balance in the justified
// state. Returning 0 discounts the vote.
type WeightFn func(validatorIndex uint64) uint64

type vote struct {
	hash [32]byte
	slot eth2types.Slot
}

type node struct {
	blockHash  [32]byte
	parentHash [32]byte
	hasParent  bool
	children   [][32]byte
	voters     []uint64
	weight     uint64 // scratch space, recomputed on every FindHead
}

func (n *node) removeVoter(validatorIndex uint64) {
	for i, v := range n.voters {
		if v == validatorIndex {
			n.voters = append(n.voters[:i], n.voters[i+1:]...)
			return
		}
	}
}

func (n *node) replaceChild(old, replacement [32]byte) {
	for i, c := range n.children {
		if c == old {
			n.children[i] = replacement
			return
		}
	}
}

func (n *node) removeChild(hash [32]byte) {
	for i, c := range n.children {
		if c == hash {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

type reducedTree struct {
	db          iface.ReadOnlyDatabase
	nodes       map[[32]byte]*node
	latestVotes map[uint64]vote
	rootHash    [32]byte
	rootSlot    eth2types.Slot
}

func newReducedTree(db iface.ReadOnlyDatabase, finalizedBlock *beacontypes.BeaconBlock, finalizedRoot [32]byte) *reducedTree {
	return &reducedTree{
		db: db,
		nodes: map[[32]byte]*node{
			finalizedRoot: {blockHash: finalizedRoot},
		},
		latestVotes: make(map[uint64]vote),
		rootHash:    finalizedRoot,
		rootSlot:    finalizedBlock.Slot,
	}
}

func (t *reducedTree) getBlock(ctx context.Context, hash [32]byte) (*beacontypes.BeaconBlock, error) {
	signed, err := t.db.Block(ctx, hash)
	if err != nil {
		return nil, errors.Wrap(err, "could not read block from store")
	}
	if signed == nil {
		return nil, errors.Errorf("block %#x is not in the store", hash)
	}
	return signed.Block, nil
}

// processAttestation moves validatorIndex's latest vote to blockHash. Votes
// at or below the finalized slot, and votes older than the validator's
// current latest vote, are ignored.
func (t *reducedTree) processAttestation(ctx context.Context, validatorIndex uint64, blockHash [32]byte, blockSlot eth2types.Slot) error {
	if blockSlot <= t.rootSlot {
		return nil
	}
	if existing, ok := t.latestVotes[validatorIndex]; ok {
		if existing.hash == blockHash {
			return nil
		}
		if existing.slot > blockSlot {
			return nil
		}
		t.removeLatestVote(validatorIndex)
	}
	if err := t.addNode(ctx, blockHash); err != nil {
		return err
	}
	t.nodes[blockHash].voters = append(t.nodes[blockHash].voters, validatorIndex)
	t.latestVotes[validatorIndex] = vote{hash: blockHash, slot: blockSlot}
	return nil
}

// removeLatestVote erases validatorIndex's current vote, pruning any node
// the vote was the last reason to materialize.
func (t *reducedTree) removeLatestVote(validatorIndex uint64) {
	v, ok := t.latestVotes[validatorIndex]
	if !ok {
		return
	}
	if n, ok := t.nodes[v.hash]; ok {
		n.removeVoter(validatorIndex)
		t.maybePruneNode(v.hash)
	}
	delete(t.latestVotes, validatorIndex)
}

// maybePruneNode removes hash from the tree if nothing justifies keeping it
// materialized: it is not the root, carries no votes, and no longer forks
// (at most one child). A removed single-child node is spliced out; the
// parent is then reconsidered, since removing a child may have made it
// redundant too.
func (t *reducedTree) maybePruneNode(hash [32]byte) {
	n, ok := t.nodes[hash]
	if !ok {
		return
	}
	if hash == t.rootHash || len(n.voters) > 0 || len(n.children) > 1 {
		return
	}
	parent, ok := t.nodes[n.parentHash]
	if !ok {
		return
	}
	if len(n.children) == 1 {
		child := n.children[0]
		parent.replaceChild(hash, child)
		t.nodes[child].parentHash = n.parentHash
	} else {
		parent.removeChild(hash)
	}
	delete(t.nodes, hash)
	t.maybePruneNode(n.parentHash)
}

// processBlock materializes a weightless node for a block seen on the
// network, then drops the block's parent from the tree again if the
// insertion left it redundant.
func (t *reducedTree) processBlock(ctx context.Context, block *beacontypes.BeaconBlock, blockHash [32]byte) error {
	if block.Slot <= t.rootSlot {
		return nil
	}
	if _, known := t.nodes[blockHash]; known {
		return nil
	}
	if err := t.addNode(ctx, blockHash); err != nil {
		return err
	}
	n := t.nodes[blockHash]
	if n.hasParent {
		t.maybePruneNode(n.parentHash)
	}
	return nil
}

// addNode materializes hash in the reduced tree. The new node attaches
// under its closest materialized ancestor; if its chain diverges from an
// existing child of that ancestor below the ancestor itself, the fork point
// is materialized as a new least-common-ancestor node.
func (t *reducedTree) addNode(ctx context.Context, hash [32]byte) error {
	if _, known := t.nodes[hash]; known {
		return nil
	}

	prevInTree, err := t.findPrevInTree(ctx, hash)
	if err != nil {
		return err
	}
	n := &node{blockHash: hash}
	prev := t.nodes[prevInTree]

	for _, childHash := range prev.children {
		ancestor, err := t.leastCommonAncestor(ctx, hash, childHash, prevInTree)
		if err != nil {
			return err
		}
		if ancestor == prevInTree {
			continue
		}
		if ancestor == hash {
			// The new node lies on the path between prev and child.
			prev.replaceChild(childHash, hash)
			n.parentHash, n.hasParent = prevInTree, true
			n.children = [][32]byte{childHash}
			t.nodes[childHash].parentHash = hash
			t.nodes[hash] = n
			return nil
		}
		// The chains diverge strictly below prev; materialize the fork
		// point with the existing child and the new node beneath it.
		common := &node{
			blockHash:  ancestor,
			parentHash: prevInTree,
			hasParent:  true,
			children:   [][32]byte{childHash, hash},
		}
		prev.replaceChild(childHash, ancestor)
		t.nodes[childHash].parentHash = ancestor
		n.parentHash, n.hasParent = ancestor, true
		t.nodes[ancestor] = common
		t.nodes[hash] = n
		return nil
	}

	n.parentHash, n.hasParent = prevInTree, true
	prev.children = append(prev.children, hash)
	t.nodes[hash] = n
	return nil
}

// findPrevInTree walks hash's ancestry through the store until it reaches a
// materialized node.
func (t *reducedTree) findPrevInTree(ctx context.Context, hash [32]byte) ([32]byte, error) {
	cursor := hash
	for {
		block, err := t.getBlock(ctx, cursor)
		if err != nil {
			return [32]byte{}, err
		}
		parent := block.ParentRoot
		if _, ok := t.nodes[parent]; ok {
			return parent, nil
		}
		if block.Slot <= t.rootSlot {
			return [32]byte{}, errors.Errorf("block %#x does not descend from the finalized root", hash)
		}
		cursor = parent
	}
}

// leastCommonAncestor finds the lowest block shared by the ancestries of a
// and b, both of which descend from stop.
func (t *reducedTree) leastCommonAncestor(ctx context.Context, a, b, stop [32]byte) ([32]byte, error) {
	seen := map[[32]byte]bool{}
	cursor := a
	for {
		seen[cursor] = true
		if cursor == stop {
			break
		}
		block, err := t.getBlock(ctx, cursor)
		if err != nil {
			return [32]byte{}, err
		}
		cursor = block.ParentRoot
	}
	cursor = b
	for {
		if seen[cursor] {
			return cursor, nil
		}
		if cursor == stop {
			return stop, nil
		}
		block, err := t.getBlock(ctx, cursor)
		if err != nil {
			return [32]byte{}, err
		}
		cursor = block.ParentRoot
	}
}

// findHead walks from startRoot toward the leaves, at each fork descending
// into the child with the greatest subtree weight. Ties break to the
// lexicographically greater block root.
func (t *reducedTree) findHead(ctx context.Context, startRoot [32]byte, weightFn WeightFn) ([32]byte, error) {
	if _, known := t.nodes[startRoot]; !known {
		if err := t.addNode(ctx, startRoot); err != nil {
			return [32]byte{}, err
		}
	}
	t.updateWeight(startRoot, weightFn)

	head := startRoot
	for {
		n := t.nodes[head]
		if len(n.children) == 0 {
			return head, nil
		}
		best := n.children[0]
		for _, childHash := range n.children[1:] {
			child := t.nodes[childHash]
			current := t.nodes[best]
			if child.weight > current.weight {
				best = childHash
				continue
			}
			if child.weight == current.weight && bytes.Compare(childHash[:], best[:]) > 0 {
				best = childHash
			}
		}
		head = best
	}
}

// updateWeight recomputes subtree weights bottom-up: a node weighs the sum
// of its own voters' balances plus its children's subtree weights.
func (t *reducedTree) updateWeight(hash [32]byte, weightFn WeightFn) uint64 {
	n := t.nodes[hash]
	weight := uint64(0)
	for _, childHash := range n.children {
		weight += t.updateWeight(childHash, weightFn)
	}
	for _, voter := range n.voters {
		weight += weightFn(voter)
	}
	n.weight = weight
	return weight
}

// updateFinalizedRoot re-roots the tree at a newly finalized block. Nodes
// outside the finalized subtree are discarded and their votes retargeted to
// the finalized root.
func (t *reducedTree) updateFinalizedRoot(ctx context.Context, finalizedBlock *beacontypes.BeaconBlock, finalizedRoot [32]byte) error {
	if finalizedRoot == t.rootHash {
		return nil
	}

	if _, known := t.nodes[finalizedRoot]; !known {
		// The finalized block may sit on a compressed segment between two
		// materialized nodes; splice it in so its attested descendants
		// survive the prune below.
		if err := t.addNode(ctx, finalizedRoot); err != nil {
			// Nothing attested descends from the new finalized block;
			// restart from a single node and point every vote at it.
			rootNode := &node{blockHash: finalizedRoot}
			for validatorIndex := range t.latestVotes {
				rootNode.voters = append(rootNode.voters, validatorIndex)
				t.latestVotes[validatorIndex] = vote{hash: finalizedRoot, slot: finalizedBlock.Slot}
			}
			t.nodes = map[[32]byte]*node{finalizedRoot: rootNode}
			t.rootHash = finalizedRoot
			t.rootSlot = finalizedBlock.Slot
			return nil
		}
	}
	rootNode := t.nodes[finalizedRoot]

	keep := map[[32]byte]bool{}
	t.markSubtree(finalizedRoot, keep)

	for hash, n := range t.nodes {
		if keep[hash] {
			continue
		}
		for _, voter := range n.voters {
			rootNode.voters = append(rootNode.voters, voter)
			t.latestVotes[voter] = vote{hash: finalizedRoot, slot: finalizedBlock.Slot}
		}
		delete(t.nodes, hash)
	}

	rootNode.hasParent = false
	rootNode.parentHash = [32]byte{}
	t.rootHash = finalizedRoot
	t.rootSlot = finalizedBlock.Slot
	return nil
}

func (t *reducedTree) markSubtree(hash [32]byte, keep map[[32]byte]bool) {
	keep[hash] = true
	for _, childHash := range t.nodes[hash].children {
		t.markSubtree(childHash, keep)
	}
}

// ThreadSafeReducedTree guards a reduced tree behind a mutex so the chain
// service, sync, and attestation paths can drive fork choice concurrently.
// Writers serialize; read-only queries share the lock.
type ThreadSafeReducedTree struct {
	mu sync.RWMutex
	t  *reducedTree
}

// New initializes fork choice with a single node at the finalized block.
func New(db iface.ReadOnlyDatabase, finalizedBlock *beacontypes.BeaconBlock, finalizedRoot [32]byte) *ThreadSafeReducedTree {
	return &ThreadSafeReducedTree{t: newReducedTree(db, finalizedBlock, finalizedRoot)}
}

// ProcessAttestation records that validatorIndex's latest vote is for the
// block at blockHash.
func (w *ThreadSafeReducedTree) ProcessAttestation(ctx context.Context, validatorIndex uint64, blockHash [32]byte, blockSlot eth2types.Slot) error {
	ctx, span := trace.StartSpan(ctx, "forkchoice.ProcessAttestation")
	defer span.End()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t.processAttestation(ctx, validatorIndex, blockHash, blockSlot)
}

// ProcessBlock inserts a block seen on the network into the reduced tree.
// Weights are unaffected until an attestation references it.
func (w *ThreadSafeReducedTree) ProcessBlock(ctx context.Context, block *beacontypes.BeaconBlock, blockHash [32]byte) error {
	ctx, span := trace.StartSpan(ctx, "forkchoice.ProcessBlock")
	defer span.End()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t.processBlock(ctx, block, blockHash)
}

// FindHead returns the canonical head, searching upward from startRoot.
func (w *ThreadSafeReducedTree) FindHead(ctx context.Context, startSlot eth2types.Slot, startRoot [32]byte, weightFn WeightFn) ([32]byte, error) {
	ctx, span := trace.StartSpan(ctx, "forkchoice.FindHead")
	defer span.End()
	w.mu.Lock()
	defer w.mu.Unlock()
	if startSlot < w.t.rootSlot {
		return [32]byte{}, errors.Errorf("head search start slot %d is below the finalized slot %d", startSlot, w.t.rootSlot)
	}
	head, err := w.t.findHead(ctx, startRoot, weightFn)
	if err != nil {
		return [32]byte{}, err
	}
	log.WithFields(logrus.Fields{
		"headRoot": fmt.Sprintf("%#x", head),
	}).Debug("fork choice head computed")
	return head, nil
}

// UpdateFinalizedRoot prunes everything not descended from the newly
// finalized block and retargets dangling votes to it.
func (w *ThreadSafeReducedTree) UpdateFinalizedRoot(ctx context.Context, finalizedBlock *beacontypes.BeaconBlock, finalizedRoot [32]byte) error {
	ctx, span := trace.StartSpan(ctx, "forkchoice.UpdateFinalizedRoot")
	defer span.End()
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.t.updateFinalizedRoot(ctx, finalizedBlock, finalizedRoot)
}

// Contains reports whether blockHash is materialized in the reduced tree.
func (w *ThreadSafeReducedTree) Contains(blockHash [32]byte) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.t.nodes[blockHash]
	return ok
}

// LatestVote returns the block root validatorIndex's latest counted vote
// points at, if any.
func (w *ThreadSafeReducedTree) LatestVote(validatorIndex uint64) ([32]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.t.latestVotes[validatorIndex]
	return v.hash, ok
}
