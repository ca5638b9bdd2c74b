package engine

import (
	"errors"
	"fmt"

	"towerdefense.ai/internal/sim/encoding"
	"towerdefense.ai/internal/sim/player"
)

// Op is the command opcode carried in the low byte of word 0.
type Op uint8

const (
	OpRun             Op = 0
	OpPlaceTower      Op = 1
	OpWithdrawTower   Op = 2
	OpMintTower       Op = 3
	OpDropTower       Op = 4
	OpUpgradeTower    Op = 5
	OpCollectRewards  Op = 6
	OpWithdrawRewards Op = 7
)

var opNames = [...]string{
	OpRun:             "RUN",
	OpPlaceTower:      "PLACE_TOWER",
	OpWithdrawTower:   "WITHDRAW_TOWER",
	OpMintTower:       "MINT_TOWER",
	OpDropTower:       "DROP_TOWER",
	OpUpgradeTower:    "UPGRADE_TOWER",
	OpCollectRewards:  "COLLECT_REWARDS",
	OpWithdrawRewards: "WITHDRAW_REWARDS",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("OP(%d)", uint8(o))
}

func (o Op) Known() bool { return int(o) < len(opNames) }

// Command is a decoded command tuple.
type Command struct {
	Op      Op
	Feature uint8
	Nonce   uint64
	Args    [3]uint64
}

// ParseCommand splits word 0 into {op: low byte, feature: next byte, nonce: rest}.
func ParseCommand(words [4]uint64) Command {
	return Command{
		Op:      Op(words[0] & 0xff),
		Feature: uint8(words[0] >> 8),
		Nonce:   words[0] >> 16,
		Args:    [3]uint64{words[1], words[2], words[3]},
	}
}

func (c Command) Words() [4]uint64 {
	return [4]uint64{c.Nonce<<16 | uint64(c.Feature)<<8 | uint64(c.Op), c.Args[0], c.Args[1], c.Args[2]}
}

// Code is the numeric result of a command that was not aborted.
type Code uint32

const (
	CodeOK                Code = 0
	CodePositionOccupied  Code = 1
	CodeInventoryNotFound Code = 2
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodePositionOccupied:
		return "POSITION_OCCUPIED"
	case CodeInventoryNotFound:
		return "INVENTORY_NOT_FOUND"
	}
	return fmt.Sprintf("CODE(%d)", uint32(c))
}

// Fatal preconditions. A command failing one of these is aborted and leaves
// no trace.
var (
	ErrNonceMismatch      = player.ErrNonceMismatch
	ErrInsufficientReward = errors.New("insufficient reward")
	ErrMaxLevel           = errors.New("tower level out of upgrade range")
	ErrNotOwner           = errors.New("caller does not own object")
	ErrNotAuthorized      = errors.New("caller is not the mint authority")
	ErrTowerPlaced        = errors.New("tower is placed on the map")
	ErrTowerNotPlaced     = errors.New("tower is not placed on the map")
	ErrInvalidOperand     = errors.New("invalid operand")
	ErrCorrupt            = encoding.ErrCorrupt
)

type FatalError struct {
	Op  Op
	PID [2]uint64
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s by %016x%016x aborted: %v", e.Op, e.PID[0], e.PID[1], e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborted a command.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
