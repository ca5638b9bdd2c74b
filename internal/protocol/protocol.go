// Package protocol defines the JSON messages exchanged with clients over
// HTTP and WebSocket. 64-bit words travel as decimal strings.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

const Version = "1.0"

// Message types.
const (
	TypeCommand = "CMD"
	TypeResult  = "RESULT"
	TypeState   = "STATE"
	TypeTick    = "TICK"
	TypeError   = "ERROR"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// U64 marshals as a quoted decimal string. It also accepts bare JSON numbers.
type U64 uint64

func (u U64) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatUint(uint64(u), 10) + `"`), nil
}

func (u *U64) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("u64: %w", err)
	}
	*u = U64(v)
	return nil
}

type Words [4]U64

func (w Words) Uint64s() [4]uint64 {
	return [4]uint64{uint64(w[0]), uint64(w[1]), uint64(w[2]), uint64(w[3])}
}

func WordsOf(v [4]uint64) Words {
	return Words{U64(v[0]), U64(v[1]), U64(v[2]), U64(v[3])}
}
