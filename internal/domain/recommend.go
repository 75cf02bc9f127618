package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Candidate is the compact per-school input handed to the recommendation model.
type Candidate struct {
	SchoolID          string  `json:"schoolId"`
	Distance          float64 `json:"distance"`
	TowerRange        string  `json:"towerRange"`
	NetworkType       string  `json:"networkType"`
	PopulationDensity float64 `json:"populationDensity"`
	ElevationProfile  string  `json:"elevationProfile"`
}

// Candidates selects, from the first limit rows, the schools that have a
// measured distance, tower range, radio type and a positive population
// density. limit <= 0 inspects every row.
func Candidates(rows []PopulationRecord, limit int) []Candidate {
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]Candidate, 0, limit)
	for _, row := range rows[:limit] {
		if row.DistanceKm == "" || row.Range == "" || row.Radio == "" || row.PopulationDensity == "" {
			continue
		}
		density, err := strconv.ParseFloat(strings.TrimSpace(row.PopulationDensity), 64)
		if err != nil || !(density > 0) {
			continue
		}
		distance, err := strconv.ParseFloat(strings.TrimSpace(row.DistanceKm), 64)
		if err != nil {
			continue
		}
		out = append(out, Candidate{
			SchoolID:          row.SchoolID,
			Distance:          distance,
			TowerRange:        row.Range,
			NetworkType:       row.Radio,
			PopulationDensity: density,
			ElevationProfile:  row.ElevationProfile,
		})
	}
	return out
}

const promptTemplate = `You are an expert in public sector connectivity planning. Based on the following data, please analyze and recommend %[1]d schools with the best connectivity solution.

Input data is an array of objects with these fields:
- schoolId: school identifier.
- networkType: radio technology of the nearest tower.
- distance: distance from school to tower in kilometers.
- towerRange: tower range in meters.
- elevationProfile: elevation values in meters sampled along the straight line from school to tower.
- populationDensity: population density at the school (people per square kilometer).

Please perform the following tasks:
1. Calculate a "scoreOfImpact" from 0 to 100 for each item that reflects the effectiveness of the solution relative to its cost and the population density; a lower cost per population density unit yields a higher score.
2. Find the top %[1]d schools with the best connectivity solution by scoreOfImpact.
3. Recommend the optimal connectivity solution (e.g. fiber, wireless, satellite) for each of them, explain in detail why it is optimal and provide an estimated implementation cost.
4. Provide an alternative connectivity solution, explain why it is less favorable and provide its estimated cost.

Return the answer as raw JSON (do not wrap it in triple backticks or markdown formatting), as one complete JSON object:
{
  "results": [
    {
      "schoolId": "<schoolId exactly as provided in the input>",
      "scoreOfImpact": <number between 0 and 100>,
      "recommendedSolution": {
        "why": "<detailed explanation of the recommended solution>",
        "estimatedCost": "<estimated cost, include currency>"
      },
      "alternativeSolution": {
        "whyAndWhyIsWorse": "<explanation of an alternative solution and why it is less favorable>",
        "estimatedCost": "<estimated cost, include currency>"
      }
    }
  ]
}

Analyze this input array:
%[2]s
`

// BuildPrompt renders the recommendation prompt for the given candidates.
func BuildPrompt(candidates []Candidate, topN int) (string, error) {
	if candidates == nil {
		candidates = []Candidate{}
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("marshal candidates: %w", err)
	}
	return fmt.Sprintf(promptTemplate, topN, data), nil
}

var (
	leadingFenceRe  = regexp.MustCompile("^```(?:json)?\\n?")
	trailingFenceRe = regexp.MustCompile("\\n?```$")
)

// CleanModelResponse strips a markdown code fence wrapped around a model reply.
func CleanModelResponse(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFenceRe.ReplaceAllString(s, "")
	s = trailingFenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// LooseString decodes a JSON string or number into its textual form.
type LooseString string

// UnmarshalJSON accepts "42", 42, 42.5 and null.
func (l *LooseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*l = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = LooseString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*l = LooseString(n.String())
	return nil
}

// ModelResult is one school in the model's reply.
type ModelResult struct {
	SchoolID            LooseString `json:"schoolId"`
	ScoreOfImpact       LooseString `json:"scoreOfImpact"`
	RecommendedSolution struct {
		Why           string      `json:"why"`
		EstimatedCost LooseString `json:"estimatedCost"`
	} `json:"recommendedSolution"`
	AlternativeSolution struct {
		WhyAndWhyIsWorse string      `json:"whyAndWhyIsWorse"`
		EstimatedCost    LooseString `json:"estimatedCost"`
	} `json:"alternativeSolution"`
}

type modelReply struct {
	Results []ModelResult `json:"results"`
}

// ParseModelResponse decodes the model's reply, tolerating a code fence.
func ParseModelResponse(raw string) ([]ModelResult, error) {
	cleaned := CleanModelResponse(raw)
	if cleaned == "" {
		return nil, fmt.Errorf("parse model response: empty reply")
	}
	var reply modelReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return reply.Results, nil
}

// JoinRecommendations attaches school name and coordinates to each model
// result by school id. Results naming an unknown school are returned in
// unknown instead of being joined.
func JoinRecommendations(results []ModelResult, rows []PopulationRecord) (joined []Recommendation, unknown []string) {
	byID := make(map[string]PopulationRecord, len(rows))
	for _, row := range rows {
		byID[row.SchoolID] = row
	}
	joined = make([]Recommendation, 0, len(results))
	for _, r := range results {
		id := string(r.SchoolID)
		row, ok := byID[id]
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		joined = append(joined, Recommendation{
			SchoolID:                            id,
			ScoreOfImpact:                       string(r.ScoreOfImpact),
			RecommendedSolutionWhy:              r.RecommendedSolution.Why,
			RecommendedSolutionEstimatedCost:    string(r.RecommendedSolution.EstimatedCost),
			AlternativeSolutionWhyAndWhyIsWorse: r.AlternativeSolution.WhyAndWhyIsWorse,
			AlternativeSolutionEstimatedCost:    string(r.AlternativeSolution.EstimatedCost),
			SchoolName:                          row.SchoolName,
			Lat:                                 row.Latitude,
			Lon:                                 row.Longitude,
		})
	}
	return joined, unknown
}

// RankRecommendations orders recommendations by descending score in place.
// Unparseable scores sort last; equal scores keep their order.
func RankRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return scoreOf(recs[i]) > scoreOf(recs[j])
	})
}

func scoreOf(r Recommendation) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.ScoreOfImpact), 64)
	if err != nil {
		return -1
	}
	return v
}
