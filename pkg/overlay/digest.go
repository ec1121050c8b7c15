package overlay

import (
	"encoding/hex"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// Digest is a content-addressed fingerprint of a cached game event,
// carried alongside the cache for integrity auditing and read back with
// EventCache.DigestFor; the Observe() snapshot does not include it. It is never consulted
// for routing or dedup decisions — msgId alone governs those per I-values
// in spec.md §4.8 — it exists purely so an operator or test can confirm
// two peers cached byte-identical event content for the same seq.
type Digest struct {
	CID cid.Cid
	Hex string
}

// blake3MultihashCode is an application-specific multihash code for raw
// BLAKE3-256 digests. It is outside the IANA-registered range so it never
// collides with a standard multicodec, matching the pattern multiformats
// documents for private/experimental hash functions.
const blake3MultihashCode = 0xb3e0

func init() {
	mh.Codes[blake3MultihashCode] = "blake3-256"
	mh.Names["blake3-256"] = blake3MultihashCode
	mh.DefaultLengths[blake3MultihashCode] = 32
}

// DigestEvent computes a content digest for a game event: BLAKE3-256 over
// the type tag and data bytes, wrapped as a CIDv1 so it can be logged,
// compared, or handed to anything that already speaks CIDs.
func DigestEvent(e GameEvent) Digest {
	h := blake3.New()
	h.Write([]byte(e.Type))
	h.Write(e.Data)
	sum := h.Sum(nil)

	out, err := mh.Encode(sum, blake3MultihashCode)
	if err != nil {
		// Encode only fails for unregistered codes or wrong-length sums;
		// both are programmer errors made unreachable by the init() above
		// and the fixed 32-byte BLAKE3-256 output.
		panic("overlay: blake3 multihash encoding: " + err.Error())
	}
	c := cid.NewCidV1(cid.Raw, mh.Multihash(out))
	return Digest{CID: c, Hex: hex.EncodeToString(sum)}
}

// secretDigest derives a keyed digest of {gameId, secret} for constant-time
// admission comparison without ever logging the plaintext secret. Keying
// on gameId as the blake3 key means two games sharing the same secret
// string still produce distinguishable digests.
func secretDigest(gameID, secret string) []byte {
	var key [32]byte
	copy(key[:], gameID)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// NewKeyed only fails on a wrong-length key; key is always exactly
		// 32 bytes here, so this is unreachable.
		panic("overlay: blake3 keyed hash: " + err.Error())
	}
	h.Write([]byte(secret))
	return h.Sum(nil)
}
