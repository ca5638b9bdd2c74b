package engine

import (
	"errors"
	"fmt"

	"towerdefense.ai/internal/sim/object"
	"towerdefense.ai/internal/sim/player"
	"towerdefense.ai/internal/sim/settlement"
	"towerdefense.ai/internal/sim/tile"
	"towerdefense.ai/internal/sim/world"
)

func ok() (Result, error)           { return Result{Code: CodeOK}, nil }
func reject(c Code) (Result, error) { return Result{Code: c}, nil }

// owned loads the caller and checks the object is on their inventory list.
func (tx *txn) owned(id uint64) (*player.Player, error) {
	p, err := tx.caller()
	if err != nil {
		return nil, err
	}
	if !p.Owns(id) {
		return nil, fmt.Errorf("%w: object %d", ErrNotOwner, id)
	}
	return p, nil
}

func (tx *txn) run() (Result, error) {
	rep := tx.mutableWorld().Run()
	for _, c := range rep.Credits {
		io, found, err := tx.inventory(c.Inventory)
		if err != nil {
			return Result{}, err
		}
		if !found {
			return Result{}, fmt.Errorf("%w: tower %d credits missing inventory %d", ErrCorrupt, c.Tower, c.Inventory)
		}
		io.Reward += c.Amount
		if err := tx.putInventory(io); err != nil {
			return Result{}, err
		}
	}
	return Result{Code: CodeOK, Report: &rep}, nil
}

// placeTower: args[0] inventory id, args[1] low 16 bits tile index,
// feature the firing direction of the placed copy.
func (tx *txn) placeTower() (Result, error) {
	id := tx.cmd.Args[0]
	p, err := tx.owned(id)
	if err != nil {
		return Result{}, err
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	dir, err := tile.ParseDirection(uint64(tx.cmd.Feature))
	if err != nil {
		return Result{}, fmt.Errorf("%w: direction %d", ErrInvalidOperand, tx.cmd.Feature)
	}
	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(CodeInventoryNotFound)
	}
	if _, placed := tx.readWorld().TowerByInventory(id); placed {
		return Result{}, fmt.Errorf("%w: object %d", ErrTowerPlaced, id)
	}
	t, err := io.Tower()
	if err != nil {
		return Result{}, err
	}
	t.Direction = dir

	pos := tx.e.base.Coordinate(int(tx.cmd.Args[1] & 0xffff))
	if err := tx.readWorld().CanPlace(pos); err != nil {
		return reject(CodePositionOccupied)
	}
	placedID, err := tx.mutableWorld().PlaceTowerAt(id, t, pos)
	if errors.Is(err, world.ErrPositionOccupied) {
		return reject(CodePositionOccupied)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Code: CodeOK, PlacedID: placedID}, nil
}

func (tx *txn) withdrawTower() (Result, error) {
	id := tx.cmd.Args[0]
	p, err := tx.caller()
	if err != nil {
		return Result{}, err
	}
	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(CodeInventoryNotFound)
	}
	t, err := io.Tower()
	if err != nil {
		return Result{}, err
	}
	if t.Owner != tx.pid || !p.Owns(id) {
		return Result{}, fmt.Errorf("%w: object %d", ErrNotOwner, id)
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	if _, placed := tx.readWorld().TowerByInventory(id); placed {
		return Result{}, fmt.Errorf("%w: object %d", ErrTowerPlaced, id)
	}
	p.RemoveInventory(id)
	return ok()
}

// mintTower: args[0] object id, args[1..2] target pid, feature the standard
// tower template. An existing object is re-attached to the target instead.
func (tx *txn) mintTower() (Result, error) {
	auth := tx.e.tuning.Authority()
	if auth == ([2]uint64{}) || tx.pid != auth {
		return Result{}, ErrNotAuthorized
	}
	id := tx.cmd.Args[0]
	if id == 0 {
		return Result{}, fmt.Errorf("%w: object id 0 is reserved", ErrInvalidOperand)
	}
	target := [2]uint64{tx.cmd.Args[1], tx.cmd.Args[2]}

	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		t, err := object.StandardTower(tx.e.tuning, uint64(tx.cmd.Feature), target)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidOperand, err)
		}
		io = object.NewInventoryObject(id, t)
	} else {
		t, err := io.Tower()
		if err != nil {
			return Result{}, err
		}
		if prev := t.Owner; prev != target && prev != ([2]uint64{}) {
			pp, err := tx.player(prev)
			if err != nil {
				return Result{}, err
			}
			pp.RemoveInventory(id)
		}
		t.Owner = target
		io.Object = t
		if e, placed := tx.readWorld().TowerByInventory(id); placed && e.Object.Tower.Owner != target {
			e, _ = tx.mutableWorld().TowerByInventory(id)
			e.Object.Tower.Owner = target
		}
	}
	tp, err := tx.player(target)
	if err != nil {
		return Result{}, err
	}
	tp.AddInventory(id)
	if err := tx.putInventory(io); err != nil {
		return Result{}, err
	}
	return ok()
}

func (tx *txn) dropTower() (Result, error) {
	id := tx.cmd.Args[0]
	p, err := tx.owned(id)
	if err != nil {
		return Result{}, err
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(CodeInventoryNotFound)
	}
	if _, placed := tx.readWorld().TowerByInventory(id); !placed {
		return Result{}, fmt.Errorf("%w: object %d", ErrTowerNotPlaced, id)
	}
	w := tx.mutableWorld()
	e, _ := w.TowerByInventory(id)
	removed, _ := w.RemoveTower(e.ID)
	io.Object = removed.Object.Tower
	if err := tx.putInventory(io); err != nil {
		return Result{}, err
	}
	return ok()
}

func (tx *txn) upgradeTower() (Result, error) {
	id := tx.cmd.Args[0]
	p, err := tx.owned(id)
	if err != nil {
		return Result{}, err
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(CodeInventoryNotFound)
	}
	t, err := io.Tower()
	if err != nil {
		return Result{}, err
	}
	level, maxLevel := t.Level, tx.e.tuning.MaxLevel()
	if level < 1 || level >= maxLevel {
		return Result{}, fmt.Errorf("%w: level %d, max %d", ErrMaxLevel, level, maxLevel)
	}
	cost, _ := tx.e.tuning.UpgradeCostFrom(level)
	if io.Reward < cost {
		return Result{}, fmt.Errorf("%w: have %d, upgrade from %d costs %d", ErrInsufficientReward, io.Reward, level, cost)
	}
	row, _ := tx.e.tuning.Level(level + 1)
	io.Reward -= cost
	t.ApplyLevel(level+1, row)
	io.Object = t
	if _, placed := tx.readWorld().TowerByInventory(id); placed {
		e, _ := tx.mutableWorld().TowerByInventory(id)
		e.Object.Tower.ApplyLevel(level+1, row)
	}
	if err := tx.putInventory(io); err != nil {
		return Result{}, err
	}
	tx.upgrades = append(tx.upgrades, settlement.Upgrade{ObjectID: id, Level: uint8(level + 1)})
	return ok()
}

func (tx *txn) collectRewards() (Result, error) {
	id := tx.cmd.Args[0]
	p, err := tx.owned(id)
	if err != nil {
		return Result{}, err
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	io, found, err := tx.inventory(id)
	if err != nil {
		return Result{}, err
	}
	if !found {
		return reject(CodeInventoryNotFound)
	}
	p.Reward += io.Reward
	io.Reward = 0
	if err := tx.putInventory(io); err != nil {
		return Result{}, err
	}
	return ok()
}

// withdrawRewards: args carry the amount and the 20-byte payout address.
func (tx *txn) withdrawRewards() (Result, error) {
	p, err := tx.caller()
	if err != nil {
		return Result{}, err
	}
	if err := p.CheckAndIncNonce(tx.cmd.Nonce); err != nil {
		return Result{}, err
	}
	wd := settlement.WithdrawFromLimbs(tx.cmd.Args[0], tx.cmd.Args[1], tx.cmd.Args[2])
	if p.Reward < wd.Amount {
		return Result{}, fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientReward, p.Reward, wd.Amount)
	}
	p.Reward -= wd.Amount
	tx.withdraws = append(tx.withdraws, wd)
	return ok()
}
