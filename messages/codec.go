package messages

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize bounds a single decoded envelope, rejecting clearly
// malicious or corrupt datagrams before they reach the allocator.
const MaxMessageSize = 64 * 1024

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOpts := cbor.CanonicalEncOptions()
	var err error
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("messages: building canonical cbor encoder: %v", err))
	}
	decOpts := cbor.DecOptions{MaxArrayElements: 4096, MaxMapPairs: 4096}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("messages: building cbor decoder: %v", err))
	}
}

// Encode renders m in canonical CBOR for transmission.
func Encode(m *Message) ([]byte, error) {
	b, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("messages: encode: %w", err)
	}
	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("messages: encoded message exceeds %d bytes", MaxMessageSize)
	}
	return b, nil
}

// Decode parses a datagram into a Message.
func Decode(b []byte) (*Message, error) {
	if len(b) > MaxMessageSize {
		return nil, fmt.Errorf("messages: datagram exceeds %d bytes", MaxMessageSize)
	}
	var m Message
	if err := decMode.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("messages: decode: %w", err)
	}
	switch m.Kind {
	case KindRequest, KindResponse, KindError:
	default:
		return nil, fmt.Errorf("messages: unknown envelope kind %q", m.Kind)
	}
	return &m, nil
}
