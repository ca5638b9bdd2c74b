// Package engine dispatches commands against the world and the per-player
// records. An Engine must only be driven from one goroutine; Runner provides
// that loop.
package engine

import (
	"fmt"
	"io"
	"log"

	"towerdefense.ai/internal/persistence/kvstore"
	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/player"
	"towerdefense.ai/internal/sim/settlement"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/tuning"
	"towerdefense.ai/internal/sim/world"
)

var (
	// WorldKey holds the world snapshot.
	WorldKey = kvstore.Key{0, 0, 0, 0}
	// SettlementKey holds the settlement events not yet flushed.
	SettlementKey = kvstore.Key{0, 0, 0, 1}
)

type Result struct {
	Op       Op                `json:"op"`
	Code     Code              `json:"code"`
	Tick     uint64            `json:"tick"`
	PlacedID uint64            `json:"placed_id,omitempty"`
	Report   *world.TickReport `json:"report,omitempty"`
}

type Engine struct {
	tuning tuning.Tuning
	store  kvstore.Store
	base   *tile.Map
	world  *world.World
	settle *settlement.Queue
	logger *log.Logger
}

// New restores the world from store, building it from t when the store is empty.
func New(t tuning.Tuning, store kvstore.Store, logger *log.Logger) (*Engine, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	e := &Engine{
		tuning: t,
		store:  store,
		base:   world.BaseMap(t),
		logger: logger,
	}
	if err := e.Fetch(); err != nil {
		return nil, err
	}
	return e, nil
}

// Fetch reloads the world snapshot and the pending settlement events from
// the store.
func (e *Engine) Fetch() error {
	pending, err := e.store.Get(SettlementKey)
	if err != nil {
		return err
	}
	q := settlement.NewQueue(e.tuning.ServerID, e.tuning.MaxUpgradesPerBatch)
	if err := q.Load(pending); err != nil {
		return fmt.Errorf("settlement queue: %w", err)
	}
	e.settle = q

	words, err := e.store.Get(WorldKey)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		w, err := world.Build(e.tuning)
		if err != nil {
			return err
		}
		e.world = w
		return e.store.Set(WorldKey, w.Words())
	}
	w, err := world.Decode(words, e.base, e.tuning.MonsterTiers)
	if err != nil {
		return fmt.Errorf("world snapshot: %w", err)
	}
	e.world = w
	return nil
}

func (e *Engine) Tuning() tuning.Tuning { return e.tuning }
func (e *Engine) World() *world.World   { return e.world }
func (e *Engine) Tick() uint64          { return e.world.Tick() }
func (e *Engine) Digest() string        { return e.world.Digest() }

// FlushSettlement drains the settlement byte stream and persists the empty
// queue. On a store error nothing is drained.
func (e *Engine) FlushSettlement() ([]byte, error) {
	if e.settle.Pending() == 0 {
		return nil, nil
	}
	prev := e.settle.Clone()
	out := e.settle.Flush()
	if err := e.store.Set(SettlementKey, e.settle.Words()); err != nil {
		e.settle = prev
		return nil, fmt.Errorf("settlement queue: %w", err)
	}
	return out, nil
}

// requeueSettlement reinstates a queue drained by a flush nobody received.
// It must run before any further command is processed.
func (e *Engine) requeueSettlement(q *settlement.Queue) error {
	if err := e.store.Set(SettlementKey, q.Words()); err != nil {
		return fmt.Errorf("settlement queue: %w", err)
	}
	e.settle = q
	return nil
}

func (e *Engine) PendingSettlement() int { return e.settle.Pending() }

// Dump copies every committed store entry in key order.
func (e *Engine) Dump() ([]kvstore.Entry, error) { return kvstore.Dump(e.store) }

// Process runs one command for the caller identified by pkey. Business
// rejections come back as a non-OK Code with nil error; fatal preconditions
// return a *FatalError. Either way nothing is persisted unless the code is OK.
func (e *Engine) Process(pkey [4]uint64, words [4]uint64) (Result, error) {
	cmd := ParseCommand(words)
	tx := &txn{
		e:       e,
		pid:     player.PIDFromKey(pkey),
		cmd:     cmd,
		overlay: kvstore.NewOverlay(e.store),
		players: map[[2]uint64]*player.Player{},
	}
	res, err := tx.dispatch()
	res.Op = cmd.Op
	if err != nil {
		fe := &FatalError{Op: cmd.Op, PID: tx.pid, Err: err}
		e.logger.Printf("fatal: %v", fe)
		return Result{Op: cmd.Op, Tick: e.world.Tick()}, fe
	}
	if res.Code != CodeOK {
		res.Tick = e.world.Tick()
		return res, nil
	}
	if err := tx.commit(); err != nil {
		return res, err
	}
	res.Tick = e.world.Tick()
	return res, nil
}

// txn stages one command. The world is cloned on first write and all store
// writes go to the overlay; commit publishes both.
type txn struct {
	e   *Engine
	pid [2]uint64
	cmd Command

	overlay *kvstore.Overlay
	world   *world.World
	players map[[2]uint64]*player.Player

	upgrades  []settlement.Upgrade
	withdraws []settlement.Withdraw
}

func (tx *txn) dispatch() (Result, error) {
	switch tx.cmd.Op {
	case OpRun:
		return tx.run()
	case OpPlaceTower:
		return tx.placeTower()
	case OpWithdrawTower:
		return tx.withdrawTower()
	case OpMintTower:
		return tx.mintTower()
	case OpDropTower:
		return tx.dropTower()
	case OpUpgradeTower:
		return tx.upgradeTower()
	case OpCollectRewards:
		return tx.collectRewards()
	case OpWithdrawRewards:
		return tx.withdrawRewards()
	}
	return Result{Code: CodeOK}, nil
}

func (tx *txn) commit() error {
	for _, p := range tx.players {
		if err := tx.overlay.Set(kvstore.Key(player.Key(p.ID)), p.Words()); err != nil {
			return err
		}
	}
	if tx.world != nil {
		if err := tx.overlay.Set(WorldKey, tx.world.Words()); err != nil {
			return err
		}
	}
	var settle *settlement.Queue
	if len(tx.withdraws) > 0 || len(tx.upgrades) > 0 {
		settle = tx.e.settle.Clone()
		for _, w := range tx.withdraws {
			settle.AppendWithdraw(w)
		}
		for _, u := range tx.upgrades {
			settle.AppendUpgrade(u.ObjectID, uint64(u.Level))
		}
		if err := tx.overlay.Set(SettlementKey, settle.Words()); err != nil {
			return err
		}
	}
	if err := tx.overlay.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", tx.cmd.Op, err)
	}
	if tx.world != nil {
		tx.e.world = tx.world
	}
	if settle != nil {
		tx.e.settle = settle
	}
	return nil
}

// mutableWorld returns the staged world copy.
func (tx *txn) mutableWorld() *world.World {
	if tx.world == nil {
		tx.world = tx.e.world.Clone()
	}
	return tx.world
}

// readWorld returns the staged copy when present.
func (tx *txn) readWorld() *world.World {
	if tx.world != nil {
		return tx.world
	}
	return tx.e.world
}

func (tx *txn) player(pid [2]uint64) (*player.Player, error) {
	if p, ok := tx.players[pid]; ok {
		return p, nil
	}
	words, err := tx.overlay.Get(kvstore.Key(player.Key(pid)))
	if err != nil {
		return nil, err
	}
	p, err := player.Decode(pid, words)
	if err != nil {
		return nil, fmt.Errorf("player %x: %w", pid, err)
	}
	tx.players[pid] = p
	return p, nil
}

func (tx *txn) caller() (*player.Player, error) { return tx.player(tx.pid) }

// inventory loads a record; ok is false when absent.
func (tx *txn) inventory(id uint64) (object.InventoryObject, bool, error) {
	words, err := tx.overlay.Get(kvstore.Key(object.InventoryKey(id)))
	if err != nil {
		return object.InventoryObject{}, false, err
	}
	if len(words) == 0 {
		return object.InventoryObject{}, false, nil
	}
	io, err := object.ParseInventoryObject(words)
	if err != nil {
		return object.InventoryObject{}, false, fmt.Errorf("inventory %d: %w", id, err)
	}
	if io.ObjectID != id {
		return object.InventoryObject{}, false, fmt.Errorf("%w: inventory %d stored under key %d", ErrCorrupt, io.ObjectID, id)
	}
	return io, true, nil
}

func (tx *txn) putInventory(io object.InventoryObject) error {
	return tx.overlay.Set(kvstore.Key(io.Key()), io.Words())
}
