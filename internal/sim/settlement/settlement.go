// Package settlement builds the outbound byte stream of withdrawals and
// tower upgrades consumed by the external settlement process.
package settlement

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"towerdefense.ai/internal/sim/encoding"
)

const (
	OpWithdraw byte = 1
	OpUpgrade  byte = 2

	AddressLen = 20

	// DefaultMaxUpgrades bounds the pairs in one upgrade batch; the count is a single byte.
	DefaultMaxUpgrades = 32

	withdrawRecordLen = 1 + AddressLen + 8
	upgradeHeaderLen  = 1 + 8 + 1
	upgradePairLen    = 8 + 1

	withdrawWords = 4
	upgradeWords  = 2
)

var ErrMalformed = errors.New("malformed settlement stream")

type Withdraw struct {
	Address [AddressLen]byte `json:"address"`
	Amount  uint64           `json:"amount"`
}

// WithdrawFromLimbs unpacks the WithdrawRewards operands. The low 32 bits of
// w1 are the amount; the high 32 bits of w1 followed by w2 and w3 form the
// big-endian address.
func WithdrawFromLimbs(w1, w2, w3 uint64) Withdraw {
	var out Withdraw
	binary.BigEndian.PutUint32(out.Address[0:4], uint32(w1>>32))
	binary.BigEndian.PutUint64(out.Address[4:12], w2)
	binary.BigEndian.PutUint64(out.Address[12:20], w3)
	out.Amount = w1 & 0xffffffff
	return out
}

// AppendTo writes 0x01 ‖ address ‖ BE64(amount).
func (w Withdraw) AppendTo(b []byte) []byte {
	b = append(b, OpWithdraw)
	b = append(b, w.Address[:]...)
	return binary.BigEndian.AppendUint64(b, w.Amount)
}

type Upgrade struct {
	ObjectID uint64 `json:"object_id,string"`
	Level    uint8  `json:"level"`
}

// Queue collects settlement events until Flush.
type Queue struct {
	serverID    uint64
	maxPerBatch int

	withdrawals []Withdraw
	upgrades    []Upgrade
}

func NewQueue(serverID uint64, maxPerBatch int) *Queue {
	if maxPerBatch <= 0 || maxPerBatch > 255 {
		maxPerBatch = DefaultMaxUpgrades
	}
	return &Queue{serverID: serverID, maxPerBatch: maxPerBatch}
}

func (q *Queue) AppendWithdraw(w Withdraw) { q.withdrawals = append(q.withdrawals, w) }

func (q *Queue) AppendUpgrade(objectID uint64, level uint64) {
	q.upgrades = append(q.upgrades, Upgrade{ObjectID: objectID, Level: uint8(level)})
}

// Clone copies the pending events; the copy shares no slices with q.
func (q *Queue) Clone() *Queue {
	c := *q
	c.withdrawals = slices.Clone(q.withdrawals)
	c.upgrades = slices.Clone(q.upgrades)
	return &c
}

// Words is the store record of the pending events:
// [nW, (addr[0:4], addr[4:12], addr[12:20], amount)..., nU, (objectID, level)...].
func (q *Queue) Words() []uint64 {
	w := encoding.NewWriter(2 + len(q.withdrawals)*withdrawWords + len(q.upgrades)*upgradeWords)
	w.Put(uint64(len(q.withdrawals)))
	for _, wd := range q.withdrawals {
		w.PutAll(
			uint64(binary.BigEndian.Uint32(wd.Address[0:4])),
			binary.BigEndian.Uint64(wd.Address[4:12]),
			binary.BigEndian.Uint64(wd.Address[12:20]),
			wd.Amount,
		)
	}
	w.Put(uint64(len(q.upgrades)))
	for _, u := range q.upgrades {
		w.PutAll(u.ObjectID, uint64(u.Level))
	}
	return w.Words()
}

// Load replaces the pending events with a record written by Words. An empty
// record is an empty queue.
func (q *Queue) Load(words []uint64) error {
	if len(words) == 0 {
		q.withdrawals, q.upgrades = nil, nil
		return nil
	}
	r := encoding.NewReader(words)
	nw, err := r.Len(withdrawWords)
	if err != nil {
		return fmt.Errorf("withdrawals: %w", err)
	}
	withdrawals := make([]Withdraw, nw)
	for i := range withdrawals {
		var v [withdrawWords]uint64
		for j := range v {
			if v[j], err = r.Next(); err != nil {
				return err
			}
		}
		if v[0] > 0xffffffff {
			return fmt.Errorf("%w: withdraw %d address head %#x", encoding.ErrCorrupt, i, v[0])
		}
		binary.BigEndian.PutUint32(withdrawals[i].Address[0:4], uint32(v[0]))
		binary.BigEndian.PutUint64(withdrawals[i].Address[4:12], v[1])
		binary.BigEndian.PutUint64(withdrawals[i].Address[12:20], v[2])
		withdrawals[i].Amount = v[3]
	}
	nu, err := r.Len(upgradeWords)
	if err != nil {
		return fmt.Errorf("upgrades: %w", err)
	}
	upgrades := make([]Upgrade, nu)
	for i := range upgrades {
		id, err := r.Next()
		if err != nil {
			return err
		}
		level, err := r.Next()
		if err != nil {
			return err
		}
		if level > 0xff {
			return fmt.Errorf("%w: upgrade %d level %d", encoding.ErrCorrupt, i, level)
		}
		upgrades[i] = Upgrade{ObjectID: id, Level: uint8(level)}
	}
	if err := r.Expect(); err != nil {
		return err
	}
	q.withdrawals, q.upgrades = withdrawals, upgrades
	return nil
}

// Pending is the number of queued events.
func (q *Queue) Pending() int { return len(q.withdrawals) + len(q.upgrades) }

// Flush drains the queue: withdrawals first in arrival order, then upgrades
// in batches of at most maxPerBatch.
func (q *Queue) Flush() []byte {
	size := len(q.withdrawals) * withdrawRecordLen
	if n := len(q.upgrades); n > 0 {
		batches := (n + q.maxPerBatch - 1) / q.maxPerBatch
		size += batches*upgradeHeaderLen + n*upgradePairLen
	}
	out := make([]byte, 0, size)
	for _, w := range q.withdrawals {
		out = w.AppendTo(out)
	}
	for start := 0; start < len(q.upgrades); start += q.maxPerBatch {
		end := min(start+q.maxPerBatch, len(q.upgrades))
		out = append(out, OpUpgrade)
		out = binary.BigEndian.AppendUint64(out, q.serverID)
		out = append(out, byte(end-start))
		for _, u := range q.upgrades[start:end] {
			out = binary.BigEndian.AppendUint64(out, u.ObjectID)
			out = append(out, u.Level)
		}
	}
	q.withdrawals = nil
	q.upgrades = nil
	return out
}

// Record is one decoded entry of a flushed stream.
type Record struct {
	Op       byte      `json:"op"`
	Withdraw *Withdraw `json:"withdraw,omitempty"`
	ServerID uint64    `json:"server_id,omitempty"`
	Upgrades []Upgrade `json:"upgrades,omitempty"`
}

// Parse decodes a stream produced by Flush.
func Parse(b []byte) ([]Record, error) {
	var out []Record
	for len(b) > 0 {
		switch b[0] {
		case OpWithdraw:
			if len(b) < withdrawRecordLen {
				return nil, fmt.Errorf("%w: withdraw record needs %d bytes, have %d", ErrMalformed, withdrawRecordLen, len(b))
			}
			var w Withdraw
			copy(w.Address[:], b[1:1+AddressLen])
			w.Amount = binary.BigEndian.Uint64(b[1+AddressLen:])
			out = append(out, Record{Op: OpWithdraw, Withdraw: &w})
			b = b[withdrawRecordLen:]
		case OpUpgrade:
			if len(b) < upgradeHeaderLen {
				return nil, fmt.Errorf("%w: short upgrade header", ErrMalformed)
			}
			rec := Record{Op: OpUpgrade, ServerID: binary.BigEndian.Uint64(b[1:9])}
			n := int(b[9])
			b = b[upgradeHeaderLen:]
			if len(b) < n*upgradePairLen {
				return nil, fmt.Errorf("%w: upgrade batch of %d needs %d bytes, have %d", ErrMalformed, n, n*upgradePairLen, len(b))
			}
			for i := 0; i < n; i++ {
				rec.Upgrades = append(rec.Upgrades, Upgrade{ObjectID: binary.BigEndian.Uint64(b[:8]), Level: b[8]})
				b = b[upgradePairLen:]
			}
			out = append(out, rec)
		default:
			return nil, fmt.Errorf("%w: unknown opcode 0x%02x", ErrMalformed, b[0])
		}
	}
	return out, nil
}
