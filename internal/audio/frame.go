package audio

// Direction tells which way a frame is flowing relative to the platform.
type Direction string

const (
	// DirectionInbound is caller audio arriving from the telephony provider.
	DirectionInbound Direction = "inbound"
	// DirectionOutbound is synthesized audio headed to the caller.
	DirectionOutbound Direction = "outbound"
)

// MaxPayloadBytes bounds a single frame payload. Telephony media chunks are
// 20ms of 8kHz mu-law (160 bytes); synthesized chunks arrive in larger
// slices but must stay well under this.
const MaxPayloadBytes = 16 * 1024

// Frame is one chunk of call audio in flight. Frames are transient transport
// data and are never persisted.
type Frame struct {
	Direction Direction
	Seq       uint64
	Payload   []byte
}
