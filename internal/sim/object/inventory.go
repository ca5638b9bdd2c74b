package object

import (
	"fmt"

	"towerdefense.ai/internal/sim/encoding"
)

// InventoryKey is the store key of an inventory record. Only the low limb
// varies; the fixed limbs keep inventory keys apart from player and world keys.
func InventoryKey(id uint64) [4]uint64 {
	return [4]uint64{id, 0xffff, 0xff01, 0xff02}
}

// InventoryObject is the off-map template of a tower a player controls,
// together with the reward its placed copy has earned.
type InventoryObject struct {
	ObjectID uint64 `json:"object_id,string"`
	Object   Object `json:"object"`
	Reward   uint64 `json:"reward"`
}

func NewInventoryObject(id uint64, o Object) InventoryObject {
	return InventoryObject{ObjectID: id, Object: o}
}

// Tower returns the template tower. Inventory currently only holds towers.
func (io InventoryObject) Tower() (Tower, error) {
	t, ok := io.Object.(Tower)
	if !ok {
		return Tower{}, fmt.Errorf("%w: inventory %d holds %s, not a tower", encoding.ErrCorrupt, io.ObjectID, io.Object.Kind())
	}
	return t, nil
}

func (io InventoryObject) Key() [4]uint64 { return InventoryKey(io.ObjectID) }

// Encode writes [tag, object..., reward, object id].
func (io InventoryObject) Encode(w *encoding.Writer) {
	EncodeObject(io.Object, w)
	w.Put(io.Reward)
	w.Put(io.ObjectID)
}

func DecodeInventoryObject(r *encoding.Reader) (InventoryObject, error) {
	o, err := DecodeObject(r)
	if err != nil {
		return InventoryObject{}, err
	}
	reward, err := r.Next()
	if err != nil {
		return InventoryObject{}, err
	}
	id, err := r.Next()
	if err != nil {
		return InventoryObject{}, err
	}
	return InventoryObject{ObjectID: id, Object: o, Reward: reward}, nil
}

func (io InventoryObject) Words() []uint64 {
	w := encoding.NewWriter(2 + TowerWords + 2)
	io.Encode(w)
	return w.Words()
}

// ParseInventoryObject decodes a full stored record.
func ParseInventoryObject(words []uint64) (InventoryObject, error) {
	r := encoding.NewReader(words)
	io, err := DecodeInventoryObject(r)
	if err != nil {
		return InventoryObject{}, err
	}
	if err := r.Expect(); err != nil {
		return InventoryObject{}, err
	}
	return io, nil
}
