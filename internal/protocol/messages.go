package protocol

import (
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/world"
)

// CMD (client -> server)
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	// ID is echoed in the matching RESULT.
	ID   string `json:"id,omitempty"`
	PKey Words  `json:"pkey"`
	Cmd  Words  `json:"cmd"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Seq             U64    `json:"seq"`
	Tick            U64    `json:"tick"`
	Op              string `json:"op"`
	Code            uint32 `json:"code"`
	CodeName        string `json:"code_name"`
	// Error is set when the command was aborted; Code is then meaningless.
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
	PlacedID U64    `json:"placed_id,omitempty"`
	Digest   string `json:"digest"`
}

// STATE (server -> client)
type StateMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Tick            U64                `json:"tick"`
	Player          *engine.PlayerView `json:"player,omitempty"`
	World           *engine.WorldView  `json:"world,omitempty"`
}

// TICK (server -> subscribers), sent after every Run.
type TickMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Seq             U64         `json:"seq"`
	Tick            U64         `json:"tick"`
	Damage          U64         `json:"damage"`
	Loot            U64         `json:"loot"`
	Kills           U64         `json:"kills"`
	Spawned         int         `json:"spawned"`
	Credits         []CreditMsg `json:"credits,omitempty"`
	Digest          string      `json:"digest"`
}

type CreditMsg struct {
	Tower     U64 `json:"tower"`
	Inventory U64 `json:"inventory"`
	Amount    U64 `json:"amount"`
}

// ERROR (server -> client) for requests that never reached the engine.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id,omitempty"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewResult(id string, seq uint64, digest string, res engine.Result, err error) ResultMsg {
	m := ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ID:              id,
		Seq:             U64(seq),
		Tick:            U64(res.Tick),
		Op:              res.Op.String(),
		Code:            uint32(res.Code),
		CodeName:        CodeName(res.Code),
		PlacedID:        U64(res.PlacedID),
		Digest:          digest,
	}
	if err != nil {
		m.Error = ErrorCodeFor(err)
		m.Message = err.Error()
		m.CodeName = ""
	}
	return m
}

func NewTick(seq uint64, digest string, rep world.TickReport) TickMsg {
	m := TickMsg{
		Type:            TypeTick,
		ProtocolVersion: Version,
		Seq:             U64(seq),
		Tick:            U64(rep.Tick),
		Damage:          U64(rep.Damage),
		Loot:            U64(rep.Loot),
		Kills:           U64(rep.Kills),
		Spawned:         rep.Spawned,
		Digest:          digest,
	}
	for _, c := range rep.Credits {
		m.Credits = append(m.Credits, CreditMsg{Tower: U64(c.Tower), Inventory: U64(c.Inventory), Amount: U64(c.Amount)})
	}
	return m
}

func NewError(id, code, msg string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, ID: id, Code: code, Message: msg}
}
