package protocol

import (
	"fmt"
	"testing"

	"towerdefense.ai/internal/sim/engine"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrRateLimit,
		ErrBusy,
		ErrNonce,
		ErrInsufficientReward,
		ErrMaxLevel,
		ErrNoPermission,
		ErrConflict,
		ErrBadRequest,
		ErrCorrupt,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestErrorCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&engine.FatalError{Op: engine.OpPlaceTower, Err: engine.ErrNonceMismatch}, ErrNonce},
		{&engine.FatalError{Op: engine.OpUpgradeTower, Err: engine.ErrInsufficientReward}, ErrInsufficientReward},
		{fmt.Errorf("wrap: %w", engine.ErrNotAuthorized), ErrNoPermission},
		{engine.ErrTowerNotPlaced, ErrConflict},
		{engine.ErrCorrupt, ErrCorrupt},
		{engine.ErrStopped, ErrBusy},
		{fmt.Errorf("disk full"), ErrInternal},
	}
	for _, tc := range cases {
		got := ErrorCodeFor(tc.err)
		if got != tc.want {
			t.Fatalf("ErrorCodeFor(%v)=%q want %q", tc.err, got, tc.want)
		}
		if !IsKnownCode(got) {
			t.Fatalf("unknown code %q", got)
		}
	}
	if CodeName(engine.CodeInventoryNotFound) != "INVENTORY_NOT_FOUND" {
		t.Fatalf("CodeName=%q", CodeName(engine.CodeInventoryNotFound))
	}
}
