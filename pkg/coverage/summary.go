package coverage

import "math"

// Row is one stored match as seen by coverage reporting.
type Row struct {
	CustomerID     string         `json:"customer_id"`
	CustomerReqID  string         `json:"customer_req_id"`
	PlatformID     string         `json:"platform_id"`
	PlatformReqID  string         `json:"platform_req_id"`
	Similarity     *float64       `json:"similarity"`
	Rank           int            `json:"rank"`
	Classification Classification `json:"classification"`
}

// Summary is the coverage report of one model. Only rank-1 rows count: a
// requirement is covered as well as its single best match.
type Summary struct {
	Total      int     `json:"total"`
	Green      int     `json:"green"`
	Yellow     int     `json:"yellow"`
	Red        int     `json:"red"`
	PctGreen   float64 `json:"pct_green"`
	PctPartial float64 `json:"pct_partial"`
	PctRed     float64 `json:"pct_red"`
	Details    []Row   `json:"details"`
}

// Summarize aggregates the stored classifications of all rank-1 rows.
func Summarize(rows []Row) Summary {
	s := Summary{Details: make([]Row, 0)}
	for _, r := range rows {
		if r.Rank != 1 {
			continue
		}
		s.Total++
		switch ParseClassification(string(r.Classification)) {
		case Green:
			s.Green++
		case Yellow:
			s.Yellow++
		default:
			s.Red++
		}
		s.Details = append(s.Details, r)
	}

	s.PctGreen = percent(s.Green, s.Total)
	s.PctPartial = percent(s.Yellow, s.Total)
	s.PctRed = percent(s.Red, s.Total)
	return s
}

// Reclassify returns a copy of rows with classifications recomputed from the
// stored similarities. It is used for what-if reports with ad-hoc thresholds.
func Reclassify(rows []Row, t Thresholds) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		r.Classification = ClassifyOptional(r.Similarity, t)
		out[i] = r
	}
	return out
}

// percent is count/total*100 rounded to one decimal; zero when total is zero.
func percent(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)*1000/float64(total)) / 10
}
