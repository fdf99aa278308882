// Package constants defines cross-cutting constants from §21 defaults and §18 encodings
package constants

import "time"

// DHT Configuration (§21)
const (
	// DHT bucket size K=20, alpha=3
	DHTBucketSize = 20
	DHTAlpha      = 3
)

// Timing Configuration (§21)
const (
	// Presence TTL 10 min, refresh at 5 min
	PresenceTTL     = 10 * time.Minute
	PresenceRefresh = 5 * time.Minute

	// Honeytag HandleIndex expire ≈ 20 min
	HandleIndexExpire = 20 * time.Minute

	// Bare-name lease 90 days, refresh at ≤60%
	BareNameLease        = 90 * 24 * time.Hour
	BareNameRefreshRatio = 0.6

	// Gossip heartbeat 1s, mesh degree 6-12
	GossipHeartbeat = 1 * time.Second
	GossipMeshMin   = 6
	GossipMeshMax   = 12

	// Max tolerated clock skew ±120s
	MaxClockSkew = 120 * time.Second

	// Buzz interval 5s
	BuzzInterval = 5 * time.Second
)

// Data Configuration (§21)
const (
	// Chunk size 1 MiB, concurrent chunk fetch 4
	ChunkSize           = 1024 * 1024 // 1 MiB
	ConcurrentChunkFetch = 4
)

// Protocol Configuration (§18)
const (
	// Protocol version
	ProtocolVersion = 1

	// Default ports
	DefaultQUICPort = 27487
	DefaultBuzzPort = 27488

	// Hash algorithm name of the wire protocol. Content addressing does not
	// read it: blocks and manifests default to SHA-256 (hash.SHA256).
	HashAlgorithm = "blake3-256"

	// Text encoding: UTF-8, NFC on input, names normalized to NFKC
	TextEncoding = "utf-8"
)

// BeeQuint-32 Configuration (§4.1)
const (
	// Consonants and vowels for proquint encoding
	Consonants = "bdfghjklmnprstvz"
	Vowels     = "aeiou"
)

// Error Codes (§17)
const (
	ErrorInvalidSig       = 1
	ErrorNotInSwarm       = 2
	ErrorNoProvider       = 3
	ErrorRateLimit        = 4
	ErrorVersionMismatch  = 5

	// Honeytag-specific errors
	ErrorNameNotFound      = 20
	ErrorNameLeaseExpired  = 21
	ErrorHandleMismatch    = 22
	ErrorNotOwner          = 23
	ErrorDelegationMissing = 24
)

// Message Kinds (§15)
const (
	KindPing       = 1
	KindPong       = 2
	KindFetchChunk = 40
	KindChunkData  = 41
	KindProvide    = 60
)

// Storage node defaults (spec §4.6/§5).
const (
	// DefaultBlockSize is used when a caller does not specify one.
	DefaultBlockSize = 64 * 1024 // 64 KiB

	// DefaultBatchSize is fetchBatched's default sliding-window size.
	DefaultBatchSize = 1024

	// RefillThresholdRatio is the fraction of batchSize that must complete
	// within the current window before the window is refilled.
	RefillThresholdRatio = 0.75

	// MaxOnBatchBlocks bounds how many blocks accumulate before onBatch is
	// flushed, regardless of batchSize.
	MaxOnBatchBlocks = 128

	// MaxWorkerPoolSize bounds the Merkle build worker pool even on
	// machines with many cores.
	MaxWorkerPoolSize = 16

	// DeleteYieldInterval is how often node.Engine.Delete yields to the
	// scheduler while deleting a dataset's blocks.
	DeleteYieldInterval = 100 * time.Millisecond
)
