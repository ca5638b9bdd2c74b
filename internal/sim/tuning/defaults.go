package tuning

// Defaults is the stock 20x20 level.
func Defaults() Tuning {
	return Tuning{
		Width:    20,
		Height:   20,
		ServerID: 1,
		TowerLevels: []TowerLevel{
			{Range: 3, Power: 1, Cooldown: 3},
			{Range: 5, Power: 3, Cooldown: 2},
			{Range: 7, Power: 10, Cooldown: 1},
		},
		UpgradeCost: []uint64{1500, 8000},
		MonsterTiers: []MonsterTier{
			{HP: 30, Hit: 1, Kill: 6},
			{HP: 150, Hit: 1, Kill: 12},
			{HP: 750, Hit: 1, Kill: 56},
		},
		StandardTowers: []StandardTower{
			{Level: 1, Direction: "TOP"},
			{Level: 1, Direction: "RIGHT"},
			{Level: 1, Direction: "LEFT"},
			{Level: 1, Direction: "BOTTOM"},
		},
		Spawners:   []SpawnerDef{{X: 0, Y: 0, Rate: 6, Count: 3}},
		Collectors: []CollectorDef{{X: 19, Y: 19, Buffer: 5}},
		Paths: []string{
			">v..................",
			".v...>>>>>v.>>>>>>v.",
			".v...^....v.^.....v.",
			".>>>>^....v.^.....v.",
			"..........v.^.v<<.v.",
			".v<<<<<<<<<.^.v.^.v.",
			".v..........^.v.^.v.",
			".v..........^.v.^.v.",
			".>>>>>>>>>>>^.v.^.v.",
			"..............v.^.v.",
			"..............v.^.v.",
			".v<<<<<.v<<<<.v.^.v.",
			".v....^<<...^.v.^<<.",
			".v..........^<<.....",
			".v.>>>>>>>v.....>>v.",
			".v.^......v.>>>>^.v.",
			".v.^<<<<..v.^.....v.",
			".v.....^..v.^.v<<<<.",
			".>>>>>>^..>>^.v.....",
			"..............>>>>>.",
		},
		SnapshotEveryTicks:  100,
		MaxUpgradesPerBatch: 32,
	}
}
