package overlay

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// shouldCompress reports whether a message kind's body is worth paying
// zstd's framing overhead for. STATE carries a batch of cached events and
// SUBTREE_STATUS carries a flattened descendant list — both grow with
// tree/cache size. Everything else (RAIN, PING/PONG/ACK, …) stays tiny and
// is sent as-is.
func shouldCompress(t Kind) bool {
	return t == KindState || t == KindSubtreeStatus
}

var (
	zstdEncOnce sync.Once
	zstdEnc     *zstd.Encoder
	zstdDecOnce sync.Once
	zstdDec     *zstd.Decoder
)

func encoder() *zstd.Encoder {
	zstdEncOnce.Do(func() {
		zstdEnc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return zstdEnc
}

func decoder() *zstd.Decoder {
	zstdDecOnce.Do(func() {
		zstdDec, _ = zstd.NewReader(nil)
	})
	return zstdDec
}

// compressBody replaces env.Body with its zstd-compressed form, carried as
// a base64 JSON string so the envelope stays valid JSON, and sets the Z
// flag so the receiver knows to decompress before decoding.
func compressBody(env *Envelope) error {
	if len(env.Body) == 0 {
		return nil
	}
	compressed, err := json.Marshal(encoder().EncodeAll(env.Body, nil))
	if err != nil {
		return err
	}
	if len(compressed) >= len(env.Body) {
		// Not worth it for small bodies; leave uncompressed.
		return nil
	}
	env.Body = compressed
	env.Z = true
	return nil
}

// decompressBody restores env.Body in place if it was compressed.
func decompressBody(env *Envelope) error {
	if !env.Z {
		return nil
	}
	var raw []byte
	if err := json.Unmarshal(env.Body, &raw); err != nil {
		return fmt.Errorf("zstd body: %w", err)
	}
	out, err := decoder().DecodeAll(raw, nil)
	if err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	env.Body = out
	env.Z = false
	return nil
}
