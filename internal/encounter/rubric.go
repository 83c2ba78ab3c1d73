package encounter

import "encounter-coach/pkg"

// RubricCategory is one scored dimension of provider performance. Each
// category is worth at most MaxPoints per scoring event.
type RubricCategory struct {
	Name        string
	MaxPoints   float64
	Description string
}

var rubric = [5]RubricCategory{
	{
		Name:        "Empathy and Rapport",
		MaxPoints:   1,
		Description: "Acknowledges the patient's feelings and builds a trusting connection.",
	},
	{
		Name:        "Clarity of Communication",
		MaxPoints:   1,
		Description: "Uses plain, jargon-free language matched to the patient's level of understanding.",
	},
	{
		Name:        "Active Listening",
		MaxPoints:   1,
		Description: "Lets the patient speak, reflects back what was heard, and follows the patient's cues.",
	},
	{
		Name:        "Cultural Responsiveness",
		MaxPoints:   1,
		Description: "Respects the patient's cultural background, language needs, and family involvement preferences.",
	},
	{
		Name:        "Clinical Thoroughness",
		MaxPoints:   1,
		Description: "Covers the clinically relevant ground for the current phase without rushing the patient.",
	},
}

// Rubric returns the scoring categories in their fixed order.
func Rubric() []RubricCategory { return rubric[:] }

// RubricMaxTotal is the sum of category maxima for one scoring event.
func RubricMaxTotal() float64 {
	var total float64
	for _, c := range rubric {
		total += c.MaxPoints
	}
	return total
}

// ZeroScoreMap builds a score map awarding zero points to every category,
// each annotated with the given justification.
func ZeroScoreMap(justification string) pkg.RubricScoreMap {
	m := make(pkg.RubricScoreMap, len(rubric))
	for _, c := range rubric {
		m[c.Name] = pkg.RubricScore{Points: 0, Justification: justification}
	}
	return m
}

// NormalizeScoreMap fills any category missing from the collaborator's score
// map with a zero entry carrying the given justification, and clamps awarded
// points into [0, max] so the cumulative total can never exceed the possible
// total. Entries for unknown categories are dropped.
func NormalizeScoreMap(in pkg.RubricScoreMap, justification string) pkg.RubricScoreMap {
	out := make(pkg.RubricScoreMap, len(rubric))
	for _, c := range rubric {
		sc, ok := in[c.Name]
		if !ok {
			out[c.Name] = pkg.RubricScore{Points: 0, Justification: justification}
			continue
		}
		if sc.Points < 0 {
			sc.Points = 0
		}
		if sc.Points > c.MaxPoints {
			sc.Points = c.MaxPoints
		}
		out[c.Name] = sc
	}
	return out
}
