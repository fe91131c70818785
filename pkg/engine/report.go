package engine

import "sort"

// MigrationReport summarizes how far the strategy set has moved off legacy implementations.
type MigrationReport struct {
	TotalStrategies int                     `json:"total_strategies"`
	ByLifecycle     map[LifecycleStatus]int `json:"by_lifecycle"`

	// MigratedPercent is migrated/total*100, or 0 for an empty table.
	MigratedPercent float64 `json:"migrated_percent"`

	// LoadedLegacy lists legacy implementations that currently have a live instance.
	LoadedLegacy []string `json:"loaded_legacy"`

	// PendingMigration lists strategies with no implementation yet.
	PendingMigration []string `json:"pending_migration"`

	// ByPhase groups strategy IDs by descriptor migration phase.
	ByPhase map[string][]string `json:"by_phase"`

	Factory FactoryStats `json:"factory"`
}

// BuildMigrationReport derives a report from the descriptor table and current factory stats.
func BuildMigrationReport(table *DescriptorTable, stats FactoryStats) MigrationReport {
	report := MigrationReport{
		TotalStrategies:  table.Len(),
		ByLifecycle:      make(map[LifecycleStatus]int),
		LoadedLegacy:     []string{},
		PendingMigration: []string{},
		ByPhase:          make(map[string][]string),
		Factory:          stats,
	}

	loaded := make(map[string]bool, len(stats.LoadedIDs))
	for _, id := range stats.LoadedIDs {
		loaded[id] = true
	}

	for _, d := range table.All() {
		report.ByLifecycle[d.Lifecycle]++

		switch d.Lifecycle {
		case LifecycleLegacyPending:
			report.PendingMigration = append(report.PendingMigration, d.ID)
		case LifecycleLegacyBridge:
			if loaded[d.ID] {
				report.LoadedLegacy = append(report.LoadedLegacy, d.ID)
			}
		}

		phase := d.MigrationPhase
		if phase == "" {
			phase = "unassigned"
		}
		report.ByPhase[phase] = append(report.ByPhase[phase], d.ID)
	}

	if report.TotalStrategies > 0 {
		report.MigratedPercent = float64(report.ByLifecycle[LifecycleMigrated]) /
			float64(report.TotalStrategies) * 100
	}

	sort.Strings(report.LoadedLegacy)
	sort.Strings(report.PendingMigration)
	return report
}
