package player

import (
	"errors"
	"testing"

	"towerdefense.ai/internal/sim/encoding"
)

func TestNonce_Sequential(t *testing.T) {
	p := New([2]uint64{1, 2})
	if err := p.CheckAndIncNonce(0); err != nil {
		t.Fatalf("nonce 0: %v", err)
	}
	if err := p.CheckAndIncNonce(0); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("replay accepted: %v", err)
	}
	if err := p.CheckAndIncNonce(1); err != nil {
		t.Fatalf("nonce 1: %v", err)
	}
	if err := p.CheckAndIncNonce(3); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("gap accepted: %v", err)
	}
	if p.Nonce != 2 {
		t.Fatalf("nonce=%d want 2", p.Nonce)
	}
}

func TestInventory_AddRemoveKeepsOrder(t *testing.T) {
	p := New([2]uint64{1, 2})
	for _, id := range []uint64{4, 8, 15, 16, 8} {
		p.AddInventory(id)
	}
	if len(p.Inventory) != 4 {
		t.Fatalf("inventory %v", p.Inventory)
	}
	if !p.RemoveInventory(8) || p.RemoveInventory(8) {
		t.Fatalf("remove semantics broken")
	}
	want := []uint64{4, 15, 16}
	for i := range want {
		if p.Inventory[i] != want[i] {
			t.Fatalf("inventory %v want %v", p.Inventory, want)
		}
	}
	if p.Owns(8) || !p.Owns(16) {
		t.Fatalf("owns wrong")
	}
}

func TestRecord_RoundTrip(t *testing.T) {
	pid := [2]uint64{7, 9}
	for _, p := range []*Player{
		New(pid),
		{ID: pid, Nonce: 12, Inventory: []uint64{3, 1, ^uint64(0)}, Reward: 1500},
	} {
		words := p.Words()
		if words[0] != p.Nonce || words[1] != uint64(len(p.Inventory)) || words[len(words)-1] != p.Reward {
			t.Fatalf("layout %v", words)
		}
		got, err := Decode(pid, words)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Nonce != p.Nonce || got.Reward != p.Reward || len(got.Inventory) != len(p.Inventory) {
			t.Fatalf("round trip %+v -> %+v", p, got)
		}
		for i := range p.Inventory {
			if got.Inventory[i] != p.Inventory[i] {
				t.Fatalf("inventory %v -> %v", p.Inventory, got.Inventory)
			}
		}
	}
}

func TestDecode_EmptyIsFresh(t *testing.T) {
	p, err := Decode([2]uint64{1, 1}, nil)
	if err != nil || p.Nonce != 0 || len(p.Inventory) != 0 || p.Reward != 0 {
		t.Fatalf("fresh player %+v %v", p, err)
	}
}

func TestDecode_RejectsCorruption(t *testing.T) {
	for name, words := range map[string][]uint64{
		"overrun":   {0, 5, 1, 2},
		"no reward": {0, 1, 9},
		"trailing":  {0, 0, 1, 1},
	} {
		if _, err := Decode([2]uint64{}, words); !errors.Is(err, encoding.ErrCorrupt) {
			t.Fatalf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}

func TestKeys(t *testing.T) {
	pkey := [4]uint64{100, 7, 9, 200}
	pid := PIDFromKey(pkey)
	if pid != [2]uint64{7, 9} {
		t.Fatalf("pid %v", pid)
	}
	if Key(pid) != [4]uint64{0x1ee1, 7, 9, 0xee1e} {
		t.Fatalf("key %v", Key(pid))
	}
}
