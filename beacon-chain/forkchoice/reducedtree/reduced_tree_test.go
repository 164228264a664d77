package reducedtree

import (
	"bytes"
	"context"
	"testing"

	eth2types "github.com/prysmaticlabs/eth2-types"
	"github.com/stretchr/testify/require"

	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/beacon-chain/db/memorydb"
	"github.com/shardbeacon/client/shared/hashutil"
)

// saveBlock writes a block to db and returns its canonical root together
// with the block itself. stateRoot differentiates sibling blocks that
// would otherwise hash identically.
func saveBlock(t *testing.T, db *memorydb.Store, slot eth2types.Slot, parentRoot [32]byte, stateRoot byte) (*beacontypes.BeaconBlock, [32]byte) {
	t.Helper()
	block := &beacontypes.BeaconBlock{
		Slot:       slot,
		ParentRoot: parentRoot,
		StateRoot:  [32]byte{stateRoot},
		Body:       &beacontypes.BeaconBlockBody{Eth1Data: &beacontypes.Eth1Data{}},
	}
	signed := &beacontypes.SignedBeaconBlock{Block: block}
	require.NoError(t, db.SaveBlock(context.Background(), signed))
	root, err := hashutil.HashTreeRoot(block)
	require.NoError(t, err)
	return block, root
}

func balanceOne(uint64) uint64 { return 1 }

func TestFindHead_TiebreakPrefersGreaterRoot(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	_, rootA := saveBlock(t, db, 1, genesisRoot, 0xaa)
	_, rootB := saveBlock(t, db, 1, genesisRoot, 0xbb)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootA, 1))
	require.NoError(t, fc.ProcessAttestation(ctx, 1, rootB, 1))

	head, err := fc.FindHead(ctx, 0, genesisRoot, balanceOne)
	require.NoError(t, err)

	want := rootA
	if bytes.Compare(rootB[:], rootA[:]) > 0 {
		want = rootB
	}
	require.Equal(t, want, head)
}

func TestFindHead_FollowsWeight(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	_, rootA := saveBlock(t, db, 1, genesisRoot, 1)
	_, rootB := saveBlock(t, db, 1, genesisRoot, 2)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootA, 1))
	require.NoError(t, fc.ProcessAttestation(ctx, 1, rootB, 1))
	require.NoError(t, fc.ProcessAttestation(ctx, 2, rootB, 1))

	head, err := fc.FindHead(ctx, 0, genesisRoot, balanceOne)
	require.NoError(t, err)
	require.Equal(t, rootB, head)
}

func TestProcessAttestation_VoteSwitchRebalances(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	_, rootA := saveBlock(t, db, 1, genesisRoot, 1)
	_, rootB := saveBlock(t, db, 2, genesisRoot, 2)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootA, 1))
	require.NoError(t, fc.ProcessAttestation(ctx, 1, rootA, 1))

	head, err := fc.FindHead(ctx, 0, genesisRoot, balanceOne)
	require.NoError(t, err)
	require.Equal(t, rootA, head)

	// Both validators switch to the later block; the old branch loses all
	// weight and is pruned from the reduced tree.
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootB, 2))
	require.NoError(t, fc.ProcessAttestation(ctx, 1, rootB, 2))

	head, err = fc.FindHead(ctx, 0, genesisRoot, balanceOne)
	require.NoError(t, err)
	require.Equal(t, rootB, head)
	require.False(t, fc.Contains(rootA))

	voted, ok := fc.LatestVote(0)
	require.True(t, ok)
	require.Equal(t, rootB, voted)
}

func TestProcessAttestation_StaleVoteIgnored(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	_, rootA := saveBlock(t, db, 1, genesisRoot, 1)
	_, rootB := saveBlock(t, db, 5, genesisRoot, 2)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootB, 5))
	require.NoError(t, fc.ProcessAttestation(ctx, 0, rootA, 1))

	voted, ok := fc.LatestVote(0)
	require.True(t, ok)
	require.Equal(t, rootB, voted)
}

func TestAddNode_MaterializesForkPoint(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	// genesis <- b1 <- b2 <- b3a
	//                    \-- b3b
	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	_, root1 := saveBlock(t, db, 1, genesisRoot, 1)
	_, root2 := saveBlock(t, db, 2, root1, 2)
	_, root3a := saveBlock(t, db, 3, root2, 3)
	_, root3b := saveBlock(t, db, 3, root2, 4)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, root3a, 3))
	require.False(t, fc.Contains(root2))

	// The second attested branch forks at b2, which must now be
	// materialized as the least common ancestor.
	require.NoError(t, fc.ProcessAttestation(ctx, 1, root3b, 3))
	require.True(t, fc.Contains(root2))
	require.False(t, fc.Contains(root1))

	head, err := fc.FindHead(ctx, 0, genesisRoot, balanceOne)
	require.NoError(t, err)
	want := root3a
	if bytes.Compare(root3b[:], root3a[:]) > 0 {
		want = root3b
	}
	require.Equal(t, want, head)
}

func TestUpdateFinalizedRoot_PrunesAndRetargets(t *testing.T) {
	db := memorydb.NewStore()
	ctx := context.Background()

	genesis, genesisRoot := saveBlock(t, db, 0, [32]byte{}, 0)
	block1, root1 := saveBlock(t, db, 1, genesisRoot, 1)
	_, root2 := saveBlock(t, db, 2, root1, 2)
	_, rootFork := saveBlock(t, db, 2, genesisRoot, 3)

	fc := New(db, genesis, genesisRoot)
	require.NoError(t, fc.ProcessAttestation(ctx, 0, root2, 2))
	require.NoError(t, fc.ProcessAttestation(ctx, 1, rootFork, 2))

	require.NoError(t, fc.UpdateFinalizedRoot(ctx, block1, root1))

	require.False(t, fc.Contains(rootFork))
	require.True(t, fc.Contains(root2))

	// The vote on the pruned fork now counts for the finalized root.
	voted, ok := fc.LatestVote(1)
	require.True(t, ok)
	require.Equal(t, root1, voted)

	head, err := fc.FindHead(ctx, 1, root1, balanceOne)
	require.NoError(t, err)
	require.Equal(t, root2, head)
}
