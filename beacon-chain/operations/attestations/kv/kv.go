// Package kv implements the aggregating attestation pool behind
// operations/attestations.Pool: a map from AttestationID to a bucket of
// disjoint, maximally-aggregated attestations, guarded by a single
// reader-writer lock.
package kv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/shardbeacon/client/beacon-chain/core/helpers"
	beacontypes "github.com/shardbeacon/client/beacon-chain/core/types"
	"github.com/shardbeacon/client/shared/bls"
)

var log = logrus.WithField("prefix", "attestations")

// AttCaches holds the pooled attestations. Insertions contend on the write
// lock; reads share the read lock.
type AttCaches struct {
	mu           sync.RWMutex
	attestations map[AttestationID][]*beacontypes.Attestation
}

// NewAttCaches returns an empty pool.
func NewAttCaches() *AttCaches {
	return &AttCaches{
		attestations: make(map[AttestationID][]*beacontypes.Attestation),
	}
}

// InsertAttestation adds att to its bucket, aggregating it in place with
// the first existing aggregate whose signer set is disjoint. An attestation
// identical to one already pooled is treated as a duplicate and dropped.
func (p *AttCaches) InsertAttestation(att *beacontypes.Attestation, beaconState *beacontypes.BeaconState) error {
	id, err := NewAttestationID(att.Data, beaconState)
	if err != nil {
		return errors.Wrap(err, "could not compute attestation id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket, ok := p.attestations[id]
	if !ok {
		p.attestations[id] = []*beacontypes.Attestation{att}
		return nil
	}

	for i, existing := range bucket {
		if existing.AggregationBits.Len() != att.AggregationBits.Len() {
			continue
		}
		if bytes.Equal(existing.AggregationBits.Bytes(), att.AggregationBits.Bytes()) {
			// Exact duplicate.
			return nil
		}
		overlaps, err := existing.AggregationBits.Overlaps(att.AggregationBits)
		if err != nil {
			return errors.Wrap(err, "could not check attestation overlap")
		}
		if overlaps {
			continue
		}
		aggregated, err := aggregate(existing, att)
		if err != nil {
			return errors.Wrap(err, "could not aggregate attestations")
		}
		bucket[i] = aggregated
		return nil
	}

	p.attestations[id] = append(bucket, att)
	return nil
}

// aggregate merges two attestations over the same data with disjoint
// signer sets: bitfields are ORed, signatures multiplied.
func aggregate(a, b *beacontypes.Attestation) (*beacontypes.Attestation, error) {
	combinedBits, err := a.AggregationBits.Or(b.AggregationBits)
	if err != nil {
		return nil, errors.Wrap(err, "could not combine aggregation bits")
	}

	sigA, err := bls.SignatureFromBytes(a.Signature[:])
	if err != nil {
		return nil, errors.Wrap(err, "could not deserialize first signature")
	}
	sigB, err := bls.SignatureFromBytes(b.Signature[:])
	if err != nil {
		return nil, errors.Wrap(err, "could not deserialize second signature")
	}
	combined := &beacontypes.Attestation{
		AggregationBits: combinedBits,
		Data:            a.Data,
	}
	copy(combined.Signature[:], bls.AggregateSignatures([]*bls.Signature{sigA, sigB}).Marshal())
	return combined, nil
}

// AttestationsForBlock returns every pooled aggregate signed under the
// attestation domain of the block's previous slot, sorted by descending
// attester count.
func (p *AttCaches) AttestationsForBlock(beaconState *beacontypes.BeaconState) ([]*beacontypes.Attestation, error) {
	if beaconState.Slot == 0 {
		return nil, errors.New("no attesting slot exists before the genesis slot")
	}
	attestingSlot := beaconState.Slot - 1
	domain := ComputeDomainBytes(helpers.SlotToEpoch(attestingSlot), beaconState)

	p.mu.RLock()
	defer p.mu.RUnlock()

	var atts []*beacontypes.Attestation
	for id, bucket := range p.attestations {
		if !id.DomainBytesMatch(domain) {
			continue
		}
		atts = append(atts, bucket...)
	}
	sort.SliceStable(atts, func(i, j int) bool {
		return atts[i].AggregationBits.Count() > atts[j].AggregationBits.Count()
	})
	return atts, nil
}

// BestAttestation returns only the single aggregate with the most
// attesters, the variant shard block production uses.
func (p *AttCaches) BestAttestation(beaconState *beacontypes.BeaconState) (*beacontypes.Attestation, error) {
	atts, err := p.AttestationsForBlock(beaconState)
	if err != nil {
		return nil, err
	}
	if len(atts) == 0 {
		return nil, nil
	}
	return atts[0], nil
}

// NumAttestations counts pooled attestations, including multiple disjoint
// aggregates over the same data.
func (p *AttCaches) NumAttestations() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := 0
	for _, bucket := range p.attestations {
		total += len(bucket)
	}
	return total
}

// Prune drops every bucket whose attestations target a slot below the
// finalized state's slot; they can never be included again.
func (p *AttCaches) Prune(finalizedState *beacontypes.BeaconState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dropped := 0
	for id, bucket := range p.attestations {
		if len(bucket) == 0 || bucket[0].Data.Slot < finalizedState.Slot {
			dropped += len(bucket)
			delete(p.attestations, id)
		}
	}
	if dropped > 0 {
		log.WithField("pruned", dropped).Debug("pruned finalized attestations from pool")
	}
}
