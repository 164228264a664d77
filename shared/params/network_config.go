package params

// NetworkConfig defines the network-facing protocol parameters the sync
// layer enforces, as distinct from the consensus parameters in
// BeaconChainConfig.
type NetworkConfig struct {
	// MaxRequestBlocks bounds how many blocks a single BlocksByRange
	// request may ask for; larger requests are served truncated.
	MaxRequestBlocks uint64
	// AttestationPropagationSlotRange is the maximum number of slots
	// during which an attestation is still worth propagating or pooling.
	AttestationPropagationSlotRange uint64
}

var defaultNetworkConfig = &NetworkConfig{
	MaxRequestBlocks:                1024,
	AttestationPropagationSlotRange: 32,
}

// BeaconNetworkConfig returns the current network config for the beacon
// chain.
func BeaconNetworkConfig() *NetworkConfig {
	return defaultNetworkConfig
}
