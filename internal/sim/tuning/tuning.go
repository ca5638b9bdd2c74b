package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"towerdefense.ai/internal/sim/tile"
)

type Tuning struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	// ServerID tags upgrade settlement batches.
	ServerID uint64 `yaml:"server_id" json:"server_id"`
	// MintAuthority is the player id allowed to mint or reassign inventory.
	MintAuthority []uint64 `yaml:"mint_authority" json:"-"`

	TowerLevels    []TowerLevel    `yaml:"tower_levels" json:"tower_levels"`
	UpgradeCost    []uint64        `yaml:"upgrade_cost" json:"upgrade_cost"`
	MonsterTiers   []MonsterTier   `yaml:"monster_tiers" json:"monster_tiers"`
	StandardTowers []StandardTower `yaml:"standard_towers" json:"standard_towers"`

	Spawners   []SpawnerDef   `yaml:"spawners" json:"spawners"`
	Collectors []CollectorDef `yaml:"collectors" json:"collectors"`
	// Paths has one row per y; each rune is '.', '^', '>', 'v' or '<'.
	Paths []string `yaml:"paths" json:"paths"`

	SnapshotEveryTicks  int `yaml:"snapshot_every_ticks" json:"-"`
	MaxUpgradesPerBatch int `yaml:"max_upgrades_per_batch" json:"-"`
}

type TowerLevel struct {
	Range    uint64 `yaml:"range" json:"range"`
	Power    uint64 `yaml:"power" json:"power"`
	Cooldown uint64 `yaml:"cooldown" json:"cooldown"`
}

type MonsterTier struct {
	HP   uint64 `yaml:"hp" json:"hp"`
	Hit  uint64 `yaml:"hit" json:"hit"`
	Kill uint64 `yaml:"kill" json:"kill"`
}

type StandardTower struct {
	Level     uint64 `yaml:"level" json:"level"`
	Direction string `yaml:"direction" json:"direction"`
}

type SpawnerDef struct {
	X     int64  `yaml:"x" json:"x"`
	Y     int64  `yaml:"y" json:"y"`
	Rate  uint64 `yaml:"rate" json:"rate"`
	Count uint64 `yaml:"count" json:"count"`
}

type CollectorDef struct {
	X      int64  `yaml:"x" json:"x"`
	Y      int64  `yaml:"y" json:"y"`
	Buffer uint64 `yaml:"buffer" json:"buffer"`
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.Width <= 0 || t.Height <= 0 {
		return fmt.Errorf("bad grid size %dx%d", t.Width, t.Height)
	}
	if t.Width > 1<<16 || t.Height > 1<<16 {
		return fmt.Errorf("grid %dx%d too large", t.Width, t.Height)
	}
	if len(t.Paths) != t.Height {
		return fmt.Errorf("paths: want %d rows, got %d", t.Height, len(t.Paths))
	}
	for y, row := range t.Paths {
		if len(row) != t.Width {
			return fmt.Errorf("paths row %d: want %d cells, got %d", y, t.Width, len(row))
		}
		for x, r := range row {
			if _, _, err := parsePathRune(r); err != nil {
				return fmt.Errorf("paths row %d col %d: %w", y, x, err)
			}
		}
	}
	if len(t.TowerLevels) == 0 {
		return fmt.Errorf("tower_levels: empty")
	}
	if len(t.UpgradeCost) < len(t.TowerLevels)-1 {
		return fmt.Errorf("upgrade_cost: want %d entries, got %d", len(t.TowerLevels)-1, len(t.UpgradeCost))
	}
	if len(t.MonsterTiers) != 3 {
		return fmt.Errorf("monster_tiers: want 3 tiers, got %d", len(t.MonsterTiers))
	}
	if len(t.MintAuthority) != 0 && len(t.MintAuthority) != 2 {
		return fmt.Errorf("mint_authority: want 2 limbs, got %d", len(t.MintAuthority))
	}
	if len(t.StandardTowers) == 0 || len(t.StandardTowers) > 256 {
		return fmt.Errorf("standard_towers: want 1..256 entries, got %d", len(t.StandardTowers))
	}
	for i, st := range t.StandardTowers {
		if st.Level < 1 || st.Level > uint64(len(t.TowerLevels)) {
			return fmt.Errorf("standard_towers[%d]: level %d out of range", i, st.Level)
		}
		if _, err := ParseDirectionName(st.Direction); err != nil {
			return fmt.Errorf("standard_towers[%d]: %w", i, err)
		}
	}
	seen := map[tile.Coordinate]bool{}
	check := func(kind string, i int, c tile.Coordinate) error {
		if c.X < 0 || c.Y < 0 || c.X >= int64(t.Width) || c.Y >= int64(t.Height) {
			return fmt.Errorf("%s[%d]: %v out of bounds", kind, i, c)
		}
		if seen[c] {
			return fmt.Errorf("%s[%d]: %v already used", kind, i, c)
		}
		seen[c] = true
		return nil
	}
	for i, s := range t.Spawners {
		if err := check("spawners", i, tile.C(s.X, s.Y)); err != nil {
			return err
		}
	}
	for i, c := range t.Collectors {
		if err := check("collectors", i, tile.C(c.X, c.Y)); err != nil {
			return err
		}
	}
	return nil
}

// MaxLevel is the highest tower level in the table.
func (t Tuning) MaxLevel() uint64 { return uint64(len(t.TowerLevels)) }

// Level returns the table row for a 1-based level.
func (t Tuning) Level(level uint64) (TowerLevel, bool) {
	if level < 1 || level > t.MaxLevel() {
		return TowerLevel{}, false
	}
	return t.TowerLevels[level-1], true
}

// UpgradeCostFrom is the reward needed to go from level to level+1.
func (t Tuning) UpgradeCostFrom(level uint64) (uint64, bool) {
	if level < 1 || level > uint64(len(t.UpgradeCost)) {
		return 0, false
	}
	return t.UpgradeCost[level-1], true
}

// PathAt reports the path feature configured for a cell.
func (t Tuning) PathAt(x, y int) (tile.Direction, bool) {
	if y < 0 || y >= len(t.Paths) || x < 0 || x >= len(t.Paths[y]) {
		return 0, false
	}
	d, ok, _ := parsePathRune(rune(t.Paths[y][x]))
	return d, ok
}

// Authority returns the minting authority pid; zero means nobody may mint.
func (t Tuning) Authority() [2]uint64 {
	if len(t.MintAuthority) != 2 {
		return [2]uint64{}
	}
	return [2]uint64{t.MintAuthority[0], t.MintAuthority[1]}
}

func ParseDirectionName(s string) (tile.Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TOP", "UP":
		return tile.Top, nil
	case "RIGHT":
		return tile.Right, nil
	case "BOTTOM", "DOWN":
		return tile.Bottom, nil
	case "LEFT":
		return tile.Left, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

func parsePathRune(r rune) (tile.Direction, bool, error) {
	switch r {
	case '.':
		return 0, false, nil
	case '^':
		return tile.Top, true, nil
	case '>':
		return tile.Right, true, nil
	case 'v':
		return tile.Bottom, true, nil
	case '<':
		return tile.Left, true, nil
	}
	return 0, false, fmt.Errorf("unknown path rune %q", r)
}
