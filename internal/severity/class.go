// Package severity maps classifier output onto diabetic retinopathy grades.
package severity

// Class describes one severity grade.
type Class struct {
	Label string `json:"label" doc:"Label the model was trained with"`
	Name  string `json:"name" doc:"Human readable name"`
	Grade int    `json:"grade" doc:"Ordinal grade, 0 is healthy"`
	Color string `json:"color" doc:"Hex color used by the dashboard"`
	Emoji string `json:"emoji" doc:"Emoji used by the dashboard"`
}

// Labels of the five-class retinopathy model, in output index order.
const (
	NoDR          = "No_DR"
	Mild          = "Mild"
	Moderate      = "Moderate"
	Severe        = "Severe"
	ProliferateDR = "Proliferate_DR"
)

// DefaultLabels is the output index order of the retinopathy classifier.
// Index i of the probability vector is the score of DefaultLabels[i].
var DefaultLabels = []string{NoDR, Mild, Moderate, Severe, ProliferateDR}

var known = map[string]Class{
	NoDR:          {Label: NoDR, Name: "No diabetic retinopathy", Grade: 0, Color: "#2e7d32", Emoji: "✅"},
	Mild:          {Label: Mild, Name: "Mild non-proliferative", Grade: 1, Color: "#9e9d24", Emoji: "🟡"},
	Moderate:      {Label: Moderate, Name: "Moderate non-proliferative", Grade: 2, Color: "#ef6c00", Emoji: "🟠"},
	Severe:        {Label: Severe, Name: "Severe non-proliferative", Grade: 3, Color: "#c62828", Emoji: "🔴"},
	ProliferateDR: {Label: ProliferateDR, Name: "Proliferative retinopathy", Grade: 4, Color: "#6a1b9a", Emoji: "🚨"},
}

const unknownColor = "#546e7a"

// Lookup returns the metadata for label. Labels outside the retinopathy
// table get a neutral entry graded by their position.
func Lookup(label string, index int) Class {
	if c, ok := known[label]; ok {
		return c
	}
	return Class{Label: label, Name: label, Grade: index, Color: unknownColor, Emoji: "❔"}
}

// Table returns class metadata for labels in index order.
func Table(labels []string) []Class {
	classes := make([]Class, len(labels))
	for i, l := range labels {
		classes[i] = Lookup(l, i)
	}
	return classes
}
