// Package connstring generates the out-of-band bootstrap payload spec.md
// §6.3 calls a "connection string" — the record a Host prints so a new
// Node can dial it directly without any discovery mechanism. spec.md §1
// explicitly leaves the exchange channel out of scope ("an out-of-band
// connection string or QR payload... the engine does not specify how they
// are exchanged"); this package only produces the record and its compact
// string encoding. Rendering it as a scannable QR code is recovered from
// original_source/ as a feature the distillation dropped, but the actual
// QR bitmap encoder is not implemented here — see DESIGN.md for why.
package connstring

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shurlinet/skytree/internal/validate"
	"github.com/shurlinet/skytree/pkg/overlay"
)

// ErrNotHost is returned by Generate when called with a Node, since only
// a Host issues connection strings.
var ErrNotHost = errors.New("connstring: only a Host can generate a connection string")

// Version is the connection-string record's own schema version, distinct
// from overlay.ProtocolVersion — this record is consumed by a human or a
// join-flow client before any overlay message is ever sent.
const Version = 1

// Mode is always "TREE" today; spec.md §6.3 reserves the field for future
// topologies.
const Mode = "TREE"

// Record is the data carried by a connection string, per spec.md §6.3:
// "{v, gameId, secret, hostId, seeds[5..10], qrSeq↑, latestRainSeq?,
// latestGameSeq?, mode:'TREE'}".
type Record struct {
	V             int      `json:"v"`
	GameID        string   `json:"gameId"`
	Secret        string   `json:"secret"`
	HostID        string   `json:"hostId"`
	Seeds         []string `json:"seeds"`
	QRSeq         uint64   `json:"qrSeq"`
	LatestRainSeq uint64   `json:"latestRainSeq,omitempty"`
	LatestGameSeq uint64   `json:"latestGameSeq,omitempty"`
	Mode          string   `json:"mode"`
}

// Generate builds a fresh Record from a live Host's current join info.
// Each call advances qrSeq, so a freshly printed code is always
// distinguishable from a stale one even if seeds and counters happen to
// coincide.
func Generate(host *overlay.Peer) (*Record, error) {
	info, ok := host.JoinInfo()
	if !ok {
		return nil, ErrNotHost
	}
	return &Record{
		V:             Version,
		GameID:        info.GameID,
		Secret:        info.Secret,
		HostID:        info.HostID,
		Seeds:         info.Seeds,
		QRSeq:         info.QRSeq,
		LatestRainSeq: info.LatestRainSeq,
		LatestGameSeq: info.LatestGameSeq,
		Mode:          Mode,
	}, nil
}

// Encode renders a Record as a compact, URL-safe string suitable for
// printing, copy-pasting, or feeding to a QR encoder as its content.
func Encode(r *Record) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal connection record: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a string produced by Encode back into a Record. The
// gameId is validated here since it arrives from outside the process —
// pasted, scanned, or typed — before it ever reaches a log line or a
// join request.
func Decode(s string) (*Record, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode connection string: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("unmarshal connection record: %w", err)
	}
	if err := validate.GameID(r.GameID); err != nil {
		return nil, fmt.Errorf("connection record: %w", err)
	}
	return &r, nil
}
