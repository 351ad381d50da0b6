package cashu

// ProofState is the lifecycle state a proof occupies in the wallet's own
// proof store. It is distinct from NUT-07's mint-observed state (spent/
// unspent/pending), which reflects what the mint currently believes.
type ProofState int

const (
	ProofUnspent ProofState = iota
	ProofReserved
	ProofSpent
)

func (s ProofState) String() string {
	switch s {
	case ProofUnspent:
		return "unspent"
	case ProofReserved:
		return "reserved"
	case ProofSpent:
		return "spent"
	default:
		return "unknown"
	}
}
