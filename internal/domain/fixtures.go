package domain

import "time"

// FixtureArms returns a small portfolio of arms with contrasting
// performance, used by the demo commands.
func FixtureArms() []Arm {
	return []Arm{
		{
			ArmID:    "camp_search_brand",
			Name:     "Search - Brand",
			Category: CategoryCampaign,
			Metrics: ArmMetrics{
				Spend:       1200,
				Clicks:      3000,
				Conversions: 150,
				Revenue:     9000,
				Impressions: 45000,
			},
			CurrentDailyBudget: 60,
			MinBudget:          10,
			MaxBudget:          200,
		},
		{
			ArmID:    "camp_search_generic",
			Name:     "Search - Generic",
			Category: CategoryCampaign,
			Metrics: ArmMetrics{
				Spend:       2000,
				Clicks:      4000,
				Conversions: 80,
				Revenue:     4800,
				Impressions: 120000,
			},
			CurrentDailyBudget: 80,
			MinBudget:          10,
			MaxBudget:          200,
		},
		{
			ArmID:    "camp_display_retarget",
			Name:     "Display - Retargeting",
			Category: CategoryCampaign,
			Metrics: ArmMetrics{
				Spend:       400,
				Clicks:      1600,
				Conversions: 40,
				Revenue:     2800,
				Impressions: 200000,
			},
			CurrentDailyBudget: 30,
			MinBudget:          5,
			MaxBudget:          150,
		},
		{
			ArmID:    "camp_video_prospecting",
			Name:     "Video - Prospecting",
			Category: CategoryCampaign,
			Metrics: ArmMetrics{
				Spend:       150,
				Clicks:      120,
				Conversions: 2,
				Revenue:     90,
				Impressions: 80000,
			},
			CurrentDailyBudget: 20,
			MinBudget:          5,
			MaxBudget:          100,
		},
	}
}

// FixtureHistory returns per-day history rows for the fixture arms,
// covering the given number of days ending at the reference date.
func FixtureHistory(days int, end time.Time) []HistoricalRecord {
	arms := FixtureArms()
	records := make([]HistoricalRecord, 0, len(arms)*days)
	for _, arm := range arms {
		for i := days; i > 0; i-- {
			day := end.AddDate(0, 0, -i).UTC().Truncate(24 * time.Hour)
			records = append(records, HistoricalRecord{
				ArmID:       arm.ArmID,
				Category:    arm.Category,
				Date:        day,
				Spend:       arm.Metrics.Spend / float64(days),
				Clicks:      arm.Metrics.Clicks / float64(days),
				Conversions: arm.Metrics.Conversions / float64(days),
				Revenue:     arm.Metrics.Revenue / float64(days),
				Impressions: arm.Metrics.Impressions / float64(days),
			})
		}
	}
	return records
}
