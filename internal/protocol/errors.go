package protocol

import (
	"errors"

	"towerdefense.ai/internal/sim/engine"
)

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrRateLimit       = "E_RATE_LIMIT"
	ErrBusy            = "E_BUSY"

	// Aborted commands.
	ErrNonce              = "E_NONCE"
	ErrInsufficientReward = "E_INSUFFICIENT_REWARD"
	ErrMaxLevel           = "E_MAX_LEVEL"
	ErrNoPermission       = "E_NO_PERMISSION"
	ErrConflict           = "E_CONFLICT"
	ErrBadRequest         = "E_BAD_REQUEST"
	ErrCorrupt            = "E_CORRUPT"
	ErrInternal           = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrRateLimit:          {},
	ErrBusy:               {},
	ErrNonce:              {},
	ErrInsufficientReward: {},
	ErrMaxLevel:           {},
	ErrNoPermission:       {},
	ErrConflict:           {},
	ErrBadRequest:         {},
	ErrCorrupt:            {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeName names a numeric result code.
func CodeName(c engine.Code) string { return c.String() }

// ErrorCodeFor maps an engine error onto a wire error code.
func ErrorCodeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, engine.ErrNonceMismatch):
		return ErrNonce
	case errors.Is(err, engine.ErrInsufficientReward):
		return ErrInsufficientReward
	case errors.Is(err, engine.ErrMaxLevel):
		return ErrMaxLevel
	case errors.Is(err, engine.ErrNotOwner), errors.Is(err, engine.ErrNotAuthorized):
		return ErrNoPermission
	case errors.Is(err, engine.ErrTowerPlaced), errors.Is(err, engine.ErrTowerNotPlaced):
		return ErrConflict
	case errors.Is(err, engine.ErrInvalidOperand):
		return ErrBadRequest
	case errors.Is(err, engine.ErrCorrupt):
		return ErrCorrupt
	case errors.Is(err, engine.ErrStopped):
		return ErrBusy
	}
	return ErrInternal
}
