package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// The six aggregate views are cached in their own tables rather than
// declared as SQL views, so the same logic runs unmodified against
// both sqlite and postgres. They are recomputed inside the completion
// transaction, so a status query issued after a completion always
// reflects it.

type buildTimeChangeRow struct {
	Name      string `gorm:"column:name;primaryKey"`
	Durations string `gorm:"column:durations"`
}

type buildsPerDayRow struct {
	Result  int   `gorm:"column:result;primaryKey"`
	DaysAgo int   `gorm:"column:days_ago;primaryKey"`
	Count   int64 `gorm:"column:count"`
}

type lowPassRateRow struct {
	Name     string  `gorm:"column:name;primaryKey"`
	PassRate float64 `gorm:"column:pass_rate"`
}

type timePerJobRow struct {
	Name        string  `gorm:"column:name;primaryKey"`
	AvgDuration float64 `gorm:"column:avg_duration"`
}

type resultChangedRow struct {
	Name        string `gorm:"column:name;primaryKey"`
	LastSuccess int64  `gorm:"column:last_success"`
	LastFailure int64  `gorm:"column:last_failure"`
}

type buildsPerJobRow struct {
	Name  string `gorm:"column:name;primaryKey"`
	Count int64  `gorm:"column:count"`
}

const resultSuccess = 5

type completedBuild struct {
	Name        string
	Number      int64
	StartedAt   *int64
	CompletedAt *int64
	Result      *int
}

func refreshViews(tx *gorm.DB) error {
	var builds []completedBuild
	if err := tx.Model(&Build{}).
		Select("name, number, started_at, completed_at, result").
		Where("completed_at IS NOT NULL").
		Order("name, number DESC").
		Find(&builds).Error; err != nil {
		return fmt.Errorf("load completed builds: %w", err)
	}

	byJob := make(map[string][]completedBuild, 32)
	for _, b := range builds {
		byJob[b.Name] = append(byJob[b.Name], b)
	}

	if err := refreshBuildTimeChanges(tx, byJob); err != nil {
		return err
	}
	if err := refreshBuildsPerDay(tx, builds); err != nil {
		return err
	}
	if err := refreshLowPassRates(tx, byJob); err != nil {
		return err
	}
	if err := refreshTimePerJob(tx, byJob); err != nil {
		return err
	}
	if err := refreshResultChanged(tx, byJob); err != nil {
		return err
	}
	if err := refreshBuildsPerJob(tx, byJob); err != nil {
		return err
	}
	return nil
}

// build_time_changes: per job, the last 10 durations as a
// comma-joined list, top 8 by variability.
func refreshBuildTimeChanges(tx *gorm.DB, byJob map[string][]completedBuild) error {
	type scored struct {
		row      buildTimeChangeRow
		variance float64
	}
	var scoredRows []scored
	for name, runs := range byJob {
		n := len(runs)
		if n > 10 {
			n = 10
		}
		durations := make([]int64, 0, n)
		for _, b := range runs[:n] {
			if b.StartedAt != nil && b.CompletedAt != nil {
				durations = append(durations, *b.CompletedAt-*b.StartedAt)
			}
		}
		if len(durations) == 0 {
			continue
		}
		strs := make([]string, len(durations))
		var sum float64
		for i, d := range durations {
			strs[i] = fmt.Sprintf("%d", d)
			sum += float64(d)
		}
		mean := sum / float64(len(durations))
		var variance float64
		for _, d := range durations {
			diff := float64(d) - mean
			variance += diff * diff
		}
		variance /= float64(len(durations))

		scoredRows = append(scoredRows, scored{
			row:      buildTimeChangeRow{Name: name, Durations: strings.Join(strs, ",")},
			variance: variance,
		})
	}
	sort.Slice(scoredRows, func(i, j int) bool {
		if scoredRows[i].variance != scoredRows[j].variance {
			return scoredRows[i].variance > scoredRows[j].variance
		}
		return scoredRows[i].row.Name < scoredRows[j].row.Name
	})
	if len(scoredRows) > 8 {
		scoredRows = scoredRows[:8]
	}

	rows := make([]buildTimeChangeRow, len(scoredRows))
	for i, s := range scoredRows {
		rows[i] = s.row
	}
	return replaceTable(tx, &buildTimeChangeRow{}, rows)
}

// builds_per_day: counts grouped by (result, days_ago) over the last
// 7 days.
func refreshBuildsPerDay(tx *gorm.DB, builds []completedBuild) error {
	now := nowFunc()
	counts := make(map[[2]int]int64)
	for _, b := range builds {
		if b.CompletedAt == nil || b.Result == nil {
			continue
		}
		daysAgo := int((now - *b.CompletedAt) / 86400)
		if daysAgo < 0 || daysAgo > 6 {
			continue
		}
		counts[[2]int{*b.Result, daysAgo}]++
	}
	rows := make([]buildsPerDayRow, 0, len(counts))
	for k, v := range counts {
		rows = append(rows, buildsPerDayRow{Result: k[0], DaysAgo: k[1], Count: v})
	}
	// Deterministic order so a repeated refresh reproduces identical
	// view contents.
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Result != rows[j].Result {
			return rows[i].Result < rows[j].Result
		}
		return rows[i].DaysAgo < rows[j].DaysAgo
	})
	return replaceTable(tx, &buildsPerDayRow{}, rows)
}

// low_pass_rates: per job, fraction with result = SUCCESS; bottom 8.
func refreshLowPassRates(tx *gorm.DB, byJob map[string][]completedBuild) error {
	var rows []lowPassRateRow
	for name, runs := range byJob {
		if len(runs) == 0 {
			continue
		}
		var success int
		for _, b := range runs {
			if b.Result != nil && *b.Result == resultSuccess {
				success++
			}
		}
		rows = append(rows, lowPassRateRow{Name: name, PassRate: float64(success) / float64(len(runs))})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].PassRate != rows[j].PassRate {
			return rows[i].PassRate < rows[j].PassRate
		}
		return rows[i].Name < rows[j].Name
	})
	if len(rows) > 8 {
		rows = rows[:8]
	}
	return replaceTable(tx, &lowPassRateRow{}, rows)
}

// time_per_job: per job, average duration over the last 7 days; top 8.
func refreshTimePerJob(tx *gorm.DB, byJob map[string][]completedBuild) error {
	now := nowFunc()
	var rows []timePerJobRow
	for name, runs := range byJob {
		var sum float64
		var n int
		for _, b := range runs {
			if b.StartedAt == nil || b.CompletedAt == nil {
				continue
			}
			if now-*b.CompletedAt > 7*86400 {
				continue
			}
			sum += float64(*b.CompletedAt - *b.StartedAt)
			n++
		}
		if n == 0 {
			continue
		}
		rows = append(rows, timePerJobRow{Name: name, AvgDuration: sum / float64(n)})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AvgDuration != rows[j].AvgDuration {
			return rows[i].AvgDuration > rows[j].AvgDuration
		}
		return rows[i].Name < rows[j].Name
	})
	if len(rows) > 8 {
		rows = rows[:8]
	}
	return replaceTable(tx, &timePerJobRow{}, rows)
}

// result_changed: per job, (last_success_number, last_failure_number)
// where both exist; top 8 by recency of alternation.
func refreshResultChanged(tx *gorm.DB, byJob map[string][]completedBuild) error {
	type scored struct {
		row   resultChangedRow
		order int64
	}
	var scoredRows []scored
	for name, runs := range byJob { // runs ordered number DESC
		var lastSuccess, lastFailure int64 = -1, -1
		for _, b := range runs {
			if b.Result == nil {
				continue
			}
			if *b.Result == resultSuccess && lastSuccess < 0 {
				lastSuccess = b.Number
			}
			if *b.Result != resultSuccess && lastFailure < 0 {
				lastFailure = b.Number
			}
			if lastSuccess >= 0 && lastFailure >= 0 {
				break
			}
		}
		if lastSuccess < 0 || lastFailure < 0 {
			continue
		}
		order := lastSuccess
		if lastFailure > order {
			order = lastFailure
		}
		scoredRows = append(scoredRows, scored{
			row:   resultChangedRow{Name: name, LastSuccess: lastSuccess, LastFailure: lastFailure},
			order: order,
		})
	}
	sort.Slice(scoredRows, func(i, j int) bool {
		if scoredRows[i].order != scoredRows[j].order {
			return scoredRows[i].order > scoredRows[j].order
		}
		return scoredRows[i].row.Name < scoredRows[j].row.Name
	})
	if len(scoredRows) > 8 {
		scoredRows = scoredRows[:8]
	}
	rows := make([]resultChangedRow, len(scoredRows))
	for i, s := range scoredRows {
		rows[i] = s.row
	}
	return replaceTable(tx, &resultChangedRow{}, rows)
}

// builds_per_job: last-24h counts; top 5.
func refreshBuildsPerJob(tx *gorm.DB, byJob map[string][]completedBuild) error {
	now := nowFunc()
	var rows []buildsPerJobRow
	for name, runs := range byJob {
		var n int64
		for _, b := range runs {
			if b.CompletedAt != nil && now-*b.CompletedAt <= 86400 {
				n++
			}
		}
		if n == 0 {
			continue
		}
		rows = append(rows, buildsPerJobRow{Name: name, Count: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
	if len(rows) > 5 {
		rows = rows[:5]
	}
	return replaceTable(tx, &buildsPerJobRow{}, rows)
}

func replaceTable[T any](tx *gorm.DB, model *T, rows []T) error {
	if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return tx.CreateInBatches(rows, 100).Error
}

// nowFunc is a package-level seam so tests can pin "now" without a
// real clock dependency threaded through every view function.
var nowFunc = func() int64 { return time.Now().Unix() }
