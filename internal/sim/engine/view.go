package engine

import (
	"towerdefense.ai/internal/persistence/kvstore"
	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/player"
	"towerdefense.ai/internal/sim/settlement"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/world"
)

type InventoryView struct {
	ID     uint64           `json:"id,string"`
	Tower  object.Tower     `json:"tower"`
	Reward uint64           `json:"reward"`
	Placed bool             `json:"placed"`
	Pos    *tile.Coordinate `json:"pos,omitempty"`
}

type PlayerView struct {
	PID       [2]uint64       `json:"pid"`
	Nonce     uint64          `json:"nonce"`
	Reward    uint64          `json:"reward"`
	Inventory []InventoryView `json:"inventory"`
}

type WorldView struct {
	Tick       uint64                           `json:"tick"`
	Width      int                              `json:"width"`
	Height     int                              `json:"height"`
	Paths      string                           `json:"paths_rle"`
	Digest     string                           `json:"digest"`
	Monsters   []world.Entry[object.Monster]    `json:"monsters"`
	Drops      []world.Entry[object.Dropped]    `json:"drops"`
	Spawners   []world.Entry[object.Spawner]    `json:"spawners"`
	Collectors []world.Entry[object.Collector]  `json:"collectors"`
	Towers     []world.Entry[world.PlacedTower] `json:"towers"`
	Events     []world.AttackEvent              `json:"events"`
}

// Player reads the committed record of pid.
func (e *Engine) Player(pid [2]uint64) (*player.Player, error) {
	words, err := e.store.Get(kvstore.Key(player.Key(pid)))
	if err != nil {
		return nil, err
	}
	return player.Decode(pid, words)
}

// Inventory reads a committed inventory record.
func (e *Engine) Inventory(id uint64) (object.InventoryObject, bool, error) {
	tx := &txn{e: e, overlay: kvstore.NewOverlay(e.store)}
	return tx.inventory(id)
}

// PendingSettlementRecords decodes the queued events without draining them.
func (e *Engine) PendingSettlementRecords() ([]settlement.Record, error) {
	return settlement.Parse(e.settle.Clone().Flush())
}

func (e *Engine) PlayerView(pid [2]uint64) (PlayerView, error) {
	p, err := e.Player(pid)
	if err != nil {
		return PlayerView{}, err
	}
	v := PlayerView{PID: pid, Nonce: p.Nonce, Reward: p.Reward, Inventory: []InventoryView{}}
	for _, id := range p.Inventory {
		io, found, err := e.Inventory(id)
		if err != nil {
			return PlayerView{}, err
		}
		if !found {
			continue
		}
		t, err := io.Tower()
		if err != nil {
			return PlayerView{}, err
		}
		iv := InventoryView{ID: id, Tower: t, Reward: io.Reward}
		if placed, ok := e.world.TowerByInventory(id); ok {
			pos := placed.Pos
			iv.Placed, iv.Pos = true, &pos
		}
		v.Inventory = append(v.Inventory, iv)
	}
	return v, nil
}

// WorldView copies the committed world for readers outside the runner.
func (e *Engine) WorldView() WorldView {
	w := e.world
	return WorldView{
		Tick:       w.Tick(),
		Width:      w.Map.Width,
		Height:     w.Map.Height,
		Paths:      w.Map.EncodeFeatures(),
		Digest:     w.Digest(),
		Monsters:   append([]world.Entry[object.Monster]{}, w.Monsters()...),
		Drops:      append([]world.Entry[object.Dropped]{}, w.Drops()...),
		Spawners:   append([]world.Entry[object.Spawner]{}, w.Spawners()...),
		Collectors: append([]world.Entry[object.Collector]{}, w.Collectors()...),
		Towers:     append([]world.Entry[world.PlacedTower]{}, w.Towers()...),
		Events:     append([]world.AttackEvent{}, w.Events()...),
	}
}
