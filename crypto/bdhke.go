// Package crypto implements the Blind Diffie-Hellman Key Exchange (BDHKE)
// primitives that back the Cashu protocol: hash-to-curve, blinding,
// mint-side signing, and unblinding.
package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// maxHashToCurveIterations bounds the retry loop in HashToCurveSafe. The
// reference mint never needs more than a couple of rounds; anything past
// this is a fatal condition, not a retryable one.
const maxHashToCurveIterations = 100

// domainSeparator tags hash-to-curve inputs per NUT-00's current
// specification, keeping them out of any other protocol's hash space.
var domainSeparator = []byte("Secp256k1_HashToCurve_Cashu_")

var ErrHashToCurveExhausted = errors.New("crypto: hash-to-curve did not converge")

// HashToCurve computes Y = H2C(secret): sha256(secret) is parsed as a
// compressed point 0x02 || hash; if that hash is not a valid x-coordinate,
// it is rehashed and retried.
func HashToCurve(message []byte) *secp256k1.PublicKey {
	point, _ := HashToCurveSafe(message)
	return point
}

// HashToCurveSafe is HashToCurve with the iteration bound made explicit and
// fatal exhaustion surfaced as an error instead of a nil point.
func HashToCurveSafe(message []byte) (*secp256k1.PublicKey, error) {
	var point *secp256k1.PublicKey
	hash := message

	for i := 0; point == nil || !point.IsOnCurve(); i++ {
		if i >= maxHashToCurveIterations {
			return nil, ErrHashToCurveExhausted
		}
		sum := sha256.Sum256(hash)
		pkhash := append([]byte{0x02}, sum[:]...)
		point, _ = secp256k1.ParsePubKey(pkhash)
		hash = sum[:]
	}
	return point, nil
}

// HashToCurveDomainSeparated is NUT-00's current hash-to-curve algorithm:
// sha256(domainSeparator || message || counter) reinterpreted as a
// compressed point, incrementing counter until one lands on the curve.
func HashToCurveDomainSeparated(message []byte) (*secp256k1.PublicKey, error) {
	msgToHash := make([]byte, 0, len(domainSeparator)+len(message))
	msgToHash = append(msgToHash, domainSeparator...)
	msgToHash = append(msgToHash, message...)

	counterBytes := make([]byte, 4)
	for counter := uint32(0); counter < maxHashToCurveIterations; counter++ {
		binary.LittleEndian.PutUint32(counterBytes, counter)
		sum := sha256.Sum256(append(msgToHash, counterBytes...))
		pkhash := append([]byte{0x02}, sum[:]...)
		if point, err := secp256k1.ParsePubKey(pkhash); err == nil {
			return point, nil
		}
	}
	return nil, ErrHashToCurveExhausted
}

// BlindSecret computes B_ = Y + rG for Y = HashToCurve(secret), generating
// r when the caller passes nil. It returns the r actually used so the
// caller can store it alongside the secret for later unblinding.
func BlindSecret(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	return blindWithHasher(secret, r, HashToCurveSafe)
}

// BlindSecretDomainSeparated is BlindSecret using the domain-separated
// hash-to-curve function, for mints that advertise the newer NUT-00
// behavior.
func BlindSecretDomainSeparated(secret string, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	return blindWithHasher(secret, r, HashToCurveDomainSeparated)
}

func blindWithHasher(
	secret string,
	r *secp256k1.PrivateKey,
	hasher func([]byte) (*secp256k1.PublicKey, error),
) (*secp256k1.PublicKey, *secp256k1.PrivateKey, error) {
	if r == nil {
		var err error
		r, err = secp256k1.GeneratePrivateKey()
		if err != nil {
			return nil, nil, err
		}
	}

	Y, err := hasher([]byte(secret))
	if err != nil {
		return nil, nil, err
	}

	var ypoint, rpoint, blinded secp256k1.JacobianPoint
	Y.AsJacobian(&ypoint)
	r.PubKey().AsJacobian(&rpoint)
	secp256k1.AddNonConst(&ypoint, &rpoint, &blinded)
	blinded.ToAffine()
	B_ := secp256k1.NewPublicKey(&blinded.X, &blinded.Y)

	return B_, r, nil
}

// BlindMessage is the low-level, byte-oriented blinding step used directly
// against NUT-00's official test vectors: B_ = Y + rG.
func BlindMessage(secret []byte, blindingFactor []byte) (*secp256k1.PublicKey, *secp256k1.PrivateKey) {
	var ypoint, rpoint, blindedMessage secp256k1.JacobianPoint

	Y := HashToCurve(secret)
	Y.AsJacobian(&ypoint)

	r, rpub := btcec.PrivKeyFromBytes(blindingFactor)
	rpub.AsJacobian(&rpoint)

	// blindedMessage = Y + rG (rpub)
	secp256k1.AddNonConst(&ypoint, &rpoint, &blindedMessage)
	blindedMessage.ToAffine()
	B_ := secp256k1.NewPublicKey(&blindedMessage.X, &blindedMessage.Y)

	return B_, r
}

// C_ = kB_
func SignBlindedMessage(B_ *secp256k1.PublicKey, k *secp256k1.PrivateKey) *secp256k1.PublicKey {
	var bpoint, result secp256k1.JacobianPoint
	B_.AsJacobian(&bpoint)

	// result = k * B_
	secp256k1.ScalarMultNonConst(&k.Key, &bpoint, &result)
	result.ToAffine()
	C_ := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C_
}

// C = C_ - rK
func UnblindSignature(C_ *secp256k1.PublicKey, r *secp256k1.PrivateKey,
	K *secp256k1.PublicKey) *secp256k1.PublicKey {

	var Kpoint, rKPoint, CPoint secp256k1.JacobianPoint
	K.AsJacobian(&Kpoint)

	var rNeg secp256k1.ModNScalar
	rNeg.NegateVal(&r.Key)

	secp256k1.ScalarMultNonConst(&rNeg, &Kpoint, &rKPoint)

	var C_Point secp256k1.JacobianPoint
	C_.AsJacobian(&C_Point)
	secp256k1.AddNonConst(&C_Point, &rKPoint, &CPoint)
	CPoint.ToAffine()

	C := secp256k1.NewPublicKey(&CPoint.X, &CPoint.Y)
	return C
}

// Verify checks that k * HashToCurve(secret) == C, i.e. that C is a valid
// unblinded signature over secret under private key k.
func Verify(secret []byte, k *secp256k1.PrivateKey, C *secp256k1.PublicKey) bool {
	var Ypoint, result secp256k1.JacobianPoint
	Y := HashToCurve(secret)
	Y.AsJacobian(&Ypoint)

	secp256k1.ScalarMultNonConst(&k.Key, &Ypoint, &result)
	result.ToAffine()
	pk := secp256k1.NewPublicKey(&result.X, &result.Y)

	return C.IsEqual(pk)
}

// hashE is NUT-12's Fiat-Shamir challenge: sha256 over the concatenated
// lowercase hex of each point's uncompressed serialization, in order,
// reduced mod the curve order.
func hashE(points ...*secp256k1.PublicKey) secp256k1.ModNScalar {
	var concat string
	for _, p := range points {
		concat += hex.EncodeToString(p.SerializeUncompressed())
	}
	sum := sha256.Sum256([]byte(concat))

	var e secp256k1.ModNScalar
	e.SetByteSlice(sum[:])
	return e
}

// VerifyDLEQ checks a NUT-12 DLEQ proof (e, s) attesting that the same
// private key k used to compute A = kG also produced C_ = kB_, without
// revealing k.
func VerifyDLEQ(e, s *secp256k1.PrivateKey, A, B_, C_ *secp256k1.PublicKey) bool {
	var eNeg secp256k1.ModNScalar
	eNeg.NegateVal(&e.Key)

	// R1 = sG - eA
	var Ajac, negEA, sG, R1 secp256k1.JacobianPoint
	A.AsJacobian(&Ajac)
	secp256k1.ScalarMultNonConst(&eNeg, &Ajac, &negEA)
	s.PubKey().AsJacobian(&sG)
	secp256k1.AddNonConst(&sG, &negEA, &R1)
	R1.ToAffine()
	R1Pub := secp256k1.NewPublicKey(&R1.X, &R1.Y)

	// R2 = sB_ - eC_
	var Bjac, Cjac, negEC, sB, R2 secp256k1.JacobianPoint
	B_.AsJacobian(&Bjac)
	C_.AsJacobian(&Cjac)
	secp256k1.ScalarMultNonConst(&eNeg, &Cjac, &negEC)
	secp256k1.ScalarMultNonConst(&s.Key, &Bjac, &sB)
	secp256k1.AddNonConst(&sB, &negEC, &R2)
	R2.ToAffine()
	R2Pub := secp256k1.NewPublicKey(&R2.X, &R2.Y)

	computedE := hashE(R1Pub, R2Pub, A, C_)
	return computedE.Equals(&e.Key)
}
