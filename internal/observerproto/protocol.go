// Package observerproto defines the read-only viewer stream. It is versioned
// separately from the command protocol.
package observerproto

import (
	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/tuning"
	"towerdefense.ai/internal/sim/world"
)

const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "OBS_TICK"
)

// Client -> Server. Optional; may be re-sent to change settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryTicks decimates the stream; 0 or 1 sends every tick.
	EveryTicks int `json:"every_ticks"`
	// Events keeps per-tick attack events in the world view.
	Events bool `json:"events"`
}

// HTTP response for GET /v1/observe/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string           `json:"protocol_version"`
	ServerID        protocol.U64     `json:"server_id"`
	Tick            protocol.U64     `json:"tick"`
	Params          WorldParams      `json:"params"`
	World           engine.WorldView `json:"world"`
}

// WorldParams is the static part of the level a viewer needs to render it.
type WorldParams struct {
	Width        int                  `json:"width"`
	Height       int                  `json:"height"`
	TowerLevels  []tuning.TowerLevel  `json:"tower_levels"`
	UpgradeCost  []uint64             `json:"upgrade_cost"`
	MonsterTiers []tuning.MonsterTier `json:"monster_tiers"`
}

func ParamsOf(t tuning.Tuning) WorldParams {
	return WorldParams{
		Width:        t.Width,
		Height:       t.Height,
		TowerLevels:  append([]tuning.TowerLevel(nil), t.TowerLevels...),
		UpgradeCost:  append([]uint64(nil), t.UpgradeCost...),
		MonsterTiers: append([]tuning.MonsterTier(nil), t.MonsterTiers...),
	}
}

// Server -> Client. Sent after every streamed Run.
type TickMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Tick            protocol.U64      `json:"tick"`
	Seq             protocol.U64      `json:"seq"`
	Digest          string            `json:"digest"`
	Report          *world.TickReport `json:"report,omitempty"`
	World           engine.WorldView  `json:"world"`
}
