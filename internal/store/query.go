package store

import "context"

// BuildSummary is a read projection of one build row, used by
// internal/status to assemble the home/job/run snapshots.
type BuildSummary struct {
	Name        string
	Number      int64
	QueuedAt    int64
	StartedAt   *int64
	CompletedAt *int64
	Result      *int
	Reason      *string
	Node        *string
	OutputLen   *int64
}

// RecentBuilds returns completed and in-flight builds, optionally
// filtered to one job, newest first.
func (s *Store) RecentBuilds(ctx context.Context, jobName string, limit int) ([]BuildSummary, error) {
	q := s.db.WithContext(ctx).Model(&Build{}).
		Select("name, number, queued_at, started_at, completed_at, result, reason, node, output_len").
		Order("number DESC")
	if jobName != "" {
		q = q.Where("name = ?", jobName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []BuildSummary
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// GetBuild fetches one build's full record, including its log.
func (s *Store) GetBuild(ctx context.Context, jobName string, number int64) (*Build, error) {
	var b Build
	if err := s.db.WithContext(ctx).
		Where("name = ? AND number = ?", jobName, number).
		First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// GetArtifacts fetches the persisted artifacts for one build.
func (s *Store) GetArtifacts(ctx context.Context, jobName string, number int64) ([]Artifact, error) {
	var rows []Artifact
	if err := s.db.WithContext(ctx).
		Where("name = ? AND number = ?", jobName, number).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CompletedCounts returns per-job lifetime completed-build counts,
// shown on the home scope.
func (s *Store) CompletedCounts(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Name  string
		Count int64
	}
	if err := s.db.WithContext(ctx).Model(&Build{}).
		Select("name, COUNT(*) as count").
		Where("completed_at IS NOT NULL").
		Group("name").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Name] = r.Count
	}
	return out, nil
}

// Views is the full set of six cached aggregate views, read back for
// status projection.
type Views struct {
	BuildTimeChanges []buildTimeChangeRow
	BuildsPerDay     []buildsPerDayRow
	LowPassRates     []lowPassRateRow
	TimePerJob       []timePerJobRow
	ResultChanged    []resultChangedRow
	BuildsPerJob     []buildsPerJobRow
}

// LoadViews reads back the six cached views.
func (s *Store) LoadViews(ctx context.Context) (Views, error) {
	var v Views
	db := s.db.WithContext(ctx)
	if err := db.Find(&v.BuildTimeChanges).Error; err != nil {
		return v, err
	}
	if err := db.Find(&v.BuildsPerDay).Error; err != nil {
		return v, err
	}
	if err := db.Find(&v.LowPassRates).Error; err != nil {
		return v, err
	}
	if err := db.Find(&v.TimePerJob).Error; err != nil {
		return v, err
	}
	if err := db.Find(&v.ResultChanged).Error; err != nil {
		return v, err
	}
	if err := db.Find(&v.BuildsPerJob).Error; err != nil {
		return v, err
	}
	return v, nil
}
