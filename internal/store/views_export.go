package store

// The six cached view row types are unexported (they're a storage
// implementation detail); these *View types and conversion functions
// are the public read shape internal/status assembles the home
// snapshot from, keeping the gorm column tags out of the status
// package entirely.

type BuildTimeChangeRowView struct {
	Name      string `json:"name"`
	Durations string `json:"durations"`
}

type BuildsPerDayRowView struct {
	Result  int   `json:"result"`
	DaysAgo int   `json:"daysAgo"`
	Count   int64 `json:"count"`
}

type LowPassRateRowView struct {
	Name     string  `json:"name"`
	PassRate float64 `json:"passRate"`
}

type TimePerJobRowView struct {
	Name        string  `json:"name"`
	AvgDuration float64 `json:"avgDuration"`
}

type ResultChangedRowView struct {
	Name        string `json:"name"`
	LastSuccess int64  `json:"lastSuccess"`
	LastFailure int64  `json:"lastFailure"`
}

type BuildsPerJobRowView struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

func ViewBuildTimeChanges(v Views) []BuildTimeChangeRowView {
	out := make([]BuildTimeChangeRowView, len(v.BuildTimeChanges))
	for i, r := range v.BuildTimeChanges {
		out[i] = BuildTimeChangeRowView{Name: r.Name, Durations: r.Durations}
	}
	return out
}

func ViewBuildsPerDay(v Views) []BuildsPerDayRowView {
	out := make([]BuildsPerDayRowView, len(v.BuildsPerDay))
	for i, r := range v.BuildsPerDay {
		out[i] = BuildsPerDayRowView{Result: r.Result, DaysAgo: r.DaysAgo, Count: r.Count}
	}
	return out
}

func ViewLowPassRates(v Views) []LowPassRateRowView {
	out := make([]LowPassRateRowView, len(v.LowPassRates))
	for i, r := range v.LowPassRates {
		out[i] = LowPassRateRowView{Name: r.Name, PassRate: r.PassRate}
	}
	return out
}

func ViewTimePerJob(v Views) []TimePerJobRowView {
	out := make([]TimePerJobRowView, len(v.TimePerJob))
	for i, r := range v.TimePerJob {
		out[i] = TimePerJobRowView{Name: r.Name, AvgDuration: r.AvgDuration}
	}
	return out
}

func ViewResultChanged(v Views) []ResultChangedRowView {
	out := make([]ResultChangedRowView, len(v.ResultChanged))
	for i, r := range v.ResultChanged {
		out[i] = ResultChangedRowView{Name: r.Name, LastSuccess: r.LastSuccess, LastFailure: r.LastFailure}
	}
	return out
}

func ViewBuildsPerJob(v Views) []BuildsPerJobRowView {
	out := make([]BuildsPerJobRowView, len(v.BuildsPerJob))
	for i, r := range v.BuildsPerJob {
		out[i] = BuildsPerJobRowView{Name: r.Name, Count: r.Count}
	}
	return out
}
