package model

import (
	"crypto"
	"sync"
)

// OpState is a session's current position in the operation state machine
// machine.
type OpState int

const (
	OpNone OpState = iota
	OpEncryptInit
	OpDecryptInit
	OpSignInit
	OpSignUpdate
	OpVerifyInit
	OpVerifyUpdate
)

func (s OpState) String() string {
	switch s {
	case OpNone:
		return "none"
	case OpEncryptInit:
		return "E-init"
	case OpDecryptInit:
		return "D-init"
	case OpSignInit:
		return "S-init"
	case OpSignUpdate:
		return "S-update"
	case OpVerifyInit:
		return "V-init"
	case OpVerifyUpdate:
		return "V-update"
	default:
		return "unknown"
	}
}

// OpAlgorithms is the resolved set of host algorithm identifiers an active
// operation dispatches through, produced once by the mechanism/parameter
// validator at *-init time.
type OpAlgorithms struct {
	Mechanism       uint // caller's CKM_* mechanism
	SingleShotAlg   uint // e.g. RSA PKCS#1v1.5 raw sign/verify/encrypt/decrypt primitive identity
	DigestTakingAlg uint // the *-update/*-final variant's primitive identity
	HashMechanism   uint // CKM_SHA* backing the digest, 0 if mechanism has none
	ExpectedOutLen  int  // 0 = unknown ("blocksize-out" not applicable)
}

// Session is owned by the session registry: a serialized handle into one
// token's object list plus the scope of a single in-progress operation.
type Session struct {
	mu sync.Mutex

	Handle   uint
	SlotIdx  int
	Token    *Token // nil for certificate-slot sessions, which have no login to perform; retained otherwise
	Objects  []*Object
	// ObjectsLen is len(Objects) at open time, kept explicit per the
	// object list being snapshotted at open time rather than re-read live.
	ObjectsLen int

	SearchCursor   int
	SearchTemplate []Attribute // nil when no find-init is active

	State      OpState
	KeyObject  *Object
	Algorithms OpAlgorithms
	Digest     crypto.Hash
	hashState  []byte // running digest accumulator for *-update paths
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// ResetOperation clears operation state back to none, releasing the key
// reference and any running digest. Called on single-shot completion,
// *-final, and on host-primitive failure.
func (s *Session) ResetOperation() {
	s.State = OpNone
	s.KeyObject = nil
	s.Algorithms = OpAlgorithms{}
	s.hashState = nil
}

// AppendDigestInput accumulates bytes fed by *-update calls. The engine uses
// a buffered accumulate-then-hash strategy rather than a streaming
// crypto/hash.Hash, since the host's digest-taking sign/verify primitives in
// this bridge operate on a precomputed digest, not on a streaming writer.
func (s *Session) AppendDigestInput(b []byte) {
	s.hashState = append(s.hashState, b...)
}

func (s *Session) DigestInput() []byte { return s.hashState }

// ClearSearch releases the search template copy, per find-final.
func (s *Session) ClearSearch() {
	s.SearchTemplate = nil
	s.SearchCursor = 0
}
