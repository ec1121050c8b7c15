package overlay

import "encoding/json"

// ProtocolVersion is the wire format version stamped on every envelope.
const ProtocolVersion = 1

// HostSentinel is the special dest value meaning "route upward until the
// Host processes it", per spec.md §3.
const HostSentinel = "HOST"

// Kind is the closed set of message tags carried in an envelope's `t`
// field. Implementations should treat Kind as a tagged union and match
// exhaustively rather than dispatch on an open string.
type Kind string

const (
	KindJoinRequest    Kind = "JOIN_REQUEST"
	KindJoinAccept     Kind = "JOIN_ACCEPT"
	KindJoinReject     Kind = "JOIN_REJECT"
	KindAttachRequest  Kind = "ATTACH_REQUEST"
	KindAttachAccept   Kind = "ATTACH_ACCEPT"
	KindAttachReject   Kind = "ATTACH_REJECT"
	KindRain           Kind = "RAIN"
	KindReqState       Kind = "REQ_STATE"
	KindState          Kind = "STATE"
	KindReqCousins     Kind = "REQ_COUSINS"
	KindCousins        Kind = "COUSINS"
	KindSubtreeStatus  Kind = "SUBTREE_STATUS"
	KindRebindRequest  Kind = "REBIND_REQUEST"
	KindRebindAssign   Kind = "REBIND_ASSIGN"
	KindGameEvent      Kind = "GAME_EVENT"
	KindGameCmd        Kind = "GAME_CMD"
	KindGameAck        Kind = "GAME_ACK"
	KindReqPayload     Kind = "REQ_PAYLOAD"
	KindPayload        Kind = "PAYLOAD"
	KindPing           Kind = "PING"
	KindPong           Kind = "PONG"
	KindAck            Kind = "ACK"
)

// Envelope is the common wrapper carried by every message, per spec.md §3.
// Per-kind bodies are data-only and travel in Body as a tagged payload;
// decode with DecodeBody once T is known.
type Envelope struct {
	T       Kind            `json:"t"`
	V       int             `json:"v"`
	GameID  string          `json:"gameId"`
	Src     string          `json:"src"`
	MsgID   string          `json:"msgId"`
	ReplyTo string          `json:"replyTo,omitempty"`
	Path    []string        `json:"path,omitempty"`
	Route   []string        `json:"route,omitempty"`
	Dest    string          `json:"dest,omitempty"`
	Ack     bool            `json:"ack,omitempty"`
	Z       bool            `json:"z,omitempty"` // body is zstd-compressed; see compress.go
	Body    json.RawMessage `json:"body,omitempty"`
}

// EncodeBody marshals a per-kind body into the envelope.
func EncodeBody(body any) (json.RawMessage, error) {
	return json.Marshal(body)
}

// DecodeBody unmarshals the envelope's body into dst, transparently
// decompressing first if the body was sent zstd-compressed (see
// compress.go).
func (e *Envelope) DecodeBody(dst any) error {
	if len(e.Body) == 0 {
		return nil
	}
	if e.Z {
		if err := decompressBody(e); err != nil {
			return err
		}
	}
	return json.Unmarshal(e.Body, dst)
}

// AppendPath appends self to the trace-only path unless already present.
// Per spec.md §4.3, path is never consulted for routing decisions.
func (e *Envelope) AppendPath(self string) {
	for _, p := range e.Path {
		if p == self {
			return
		}
	}
	e.Path = append(append([]string{}, e.Path...), self)
}

// ReversePath returns the path reversed, used by reply builders to
// construct a route vector that retraces the request's hops.
func ReversePath(path []string) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[len(path)-1-i] = p
	}
	return out
}

// --- Per-kind bodies (spec.md §6.1) ---

type JoinRequestBody struct {
	Secret string `json:"secret"`
}

type JoinAcceptBody struct {
	PlayerID  string   `json:"playerId"`
	Payload   string   `json:"payload"`
	Seeds     []string `json:"seeds"`
	KeepAlive bool     `json:"keepAlive"`
	RainSeq   uint64   `json:"rainSeq"`
	GameSeq   uint64   `json:"gameSeq"`
}

type JoinRejectBody struct {
	Reason string `json:"reason"`
}

type AttachRequestBody struct {
	WantRole string `json:"wantRole"` // always "CHILD"
	Depth    int    `json:"depth"`
}

type AttachAcceptBody struct {
	ParentID         string   `json:"parentId"`
	Level            int      `json:"level"`
	CousinCandidates []string `json:"cousinCandidates,omitempty"`
	ChildrenMax      int      `json:"childrenMax"`
	ChildrenUsed     int      `json:"childrenUsed"`
}

type AttachRejectBody struct {
	Reason    string   `json:"reason"`
	Redirect  []string `json:"redirect"`
	DepthHint int      `json:"depthHint"`
}

type RainBody struct {
	RainSeq uint64 `json:"rainSeq"`
}

type ReqStateBody struct {
	FromRainSeq uint64 `json:"fromRainSeq"`
	FromGameSeq uint64 `json:"fromGameSeq"`
}

type CachedEvent struct {
	Seq   uint64    `json:"seq"`
	Event GameEvent `json:"event"`
}

type StateBody struct {
	LatestRainSeq       uint64        `json:"latestRainSeq"`
	LatestGameSeq       uint64        `json:"latestGameSeq"`
	Events              []CachedEvent `json:"events"`
	MinGameSeqAvailable uint64        `json:"minGameSeqAvailable"`
	Truncated           bool          `json:"truncated"`
}

type ReqCousinsBody struct {
	RequesterDepth int `json:"requesterDepth"`
	DesiredCount   int `json:"desiredCount"`
}

type CousinCandidate struct {
	ID   string `json:"id"`
	Hops int    `json:"hops"`
}

type CousinsBody struct {
	Candidates []CousinCandidate `json:"candidates"`
}

type DescendantInfo struct {
	ID        string `json:"id"`
	Hops      int    `json:"hops"`
	FreeSlots int    `json:"freeSlots"`
}

type ChildStatus struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	LastRainSeq uint64 `json:"lastRainSeq"`
	FreeSlots int    `json:"freeSlots"`
}

type SubtreeStatusBody struct {
	LastRainSeq  uint64           `json:"lastRainSeq"`
	State        string           `json:"state"`
	Children     []ChildStatus    `json:"children"`
	SubtreeCount int              `json:"subtreeCount"`
	Descendants  []DescendantInfo `json:"descendants"`
	FreeSlots    int              `json:"freeSlots"`
}

type RebindRequestBody struct {
	LastRainSeq  uint64 `json:"lastRainSeq"`
	LastGameSeq  uint64 `json:"lastGameSeq"`
	SubtreeCount int    `json:"subtreeCount"`
	Reason       string `json:"reason"`
}

type RebindAssignBody struct {
	NewParentCandidates []string `json:"newParentCandidates"`
	Priority            string   `json:"priority"` // "TRY_IN_ORDER"
}

type GameEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type GameEventBody struct {
	GameSeq uint64    `json:"gameSeq"`
	Event   GameEvent `json:"event"`
}

type GameCmdBody struct {
	Cmd GameEvent `json:"cmd"`
}

type GameAckBody struct {
	OK bool `json:"ok"`
}

type ReqPayloadBody struct {
	PayloadType string `json:"payloadType"`
}

type PayloadBody struct {
	PayloadType string          `json:"payloadType"`
	Data        json.RawMessage `json:"data"`
}
