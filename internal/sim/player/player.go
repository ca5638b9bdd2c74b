// Package player holds the per-player record: nonce, inventory list and
// reward balance.
package player

import (
	"errors"
	"fmt"
	"slices"

	"towerdefense.ai/internal/sim/encoding"
)

var ErrNonceMismatch = errors.New("nonce mismatch")

// Key is the store key of a player record.
func Key(pid [2]uint64) [4]uint64 {
	return [4]uint64{0x1ee1, pid[0], pid[1], 0xee1e}
}

// PIDFromKey extracts the player id from a caller's public key limbs.
func PIDFromKey(pkey [4]uint64) [2]uint64 {
	return [2]uint64{pkey[1], pkey[2]}
}

type Player struct {
	ID        [2]uint64 `json:"-"`
	Nonce     uint64    `json:"nonce"`
	Inventory []uint64  `json:"inventory"`
	Reward    uint64    `json:"reward"`
}

func New(pid [2]uint64) *Player {
	return &Player{ID: pid, Inventory: []uint64{}}
}

// CheckAndIncNonce accepts only the stored nonce and advances it by one.
func (p *Player) CheckAndIncNonce(nonce uint64) error {
	if nonce != p.Nonce {
		return fmt.Errorf("%w: got %d want %d", ErrNonceMismatch, nonce, p.Nonce)
	}
	p.Nonce++
	return nil
}

func (p *Player) Owns(id uint64) bool {
	return slices.Contains(p.Inventory, id)
}

// AddInventory appends id unless already present.
func (p *Player) AddInventory(id uint64) {
	if !p.Owns(id) {
		p.Inventory = append(p.Inventory, id)
	}
}

// RemoveInventory keeps the remaining ids in their original order.
func (p *Player) RemoveInventory(id uint64) bool {
	i := slices.Index(p.Inventory, id)
	if i < 0 {
		return false
	}
	p.Inventory = slices.Delete(p.Inventory, i, i+1)
	return true
}

func (p *Player) Clone() *Player {
	c := *p
	c.Inventory = slices.Clone(p.Inventory)
	if c.Inventory == nil {
		c.Inventory = []uint64{}
	}
	return &c
}

// Words encodes [nonce, len, ids..., reward].
func (p *Player) Words() []uint64 {
	w := encoding.NewWriter(3 + len(p.Inventory))
	w.Put(p.Nonce)
	w.Put(uint64(len(p.Inventory)))
	w.PutAll(p.Inventory...)
	w.Put(p.Reward)
	return w.Words()
}

// Decode parses a stored record. An empty record is a fresh player.
func Decode(pid [2]uint64, words []uint64) (*Player, error) {
	if len(words) == 0 {
		return New(pid), nil
	}
	r := encoding.NewReader(words)
	p := New(pid)
	var err error
	if p.Nonce, err = r.Next(); err != nil {
		return nil, err
	}
	n, err := r.Len(1)
	if err != nil {
		return nil, err
	}
	p.Inventory = make([]uint64, n)
	for i := range p.Inventory {
		if p.Inventory[i], err = r.Next(); err != nil {
			return nil, err
		}
	}
	if p.Reward, err = r.Next(); err != nil {
		return nil, err
	}
	if err := r.Expect(); err != nil {
		return nil, err
	}
	return p, nil
}
