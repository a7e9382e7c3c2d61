package models

// Stage is one named step of the cosmetic agent timeline. The zero value means
// no stage is active.
type Stage string

const (
	StageCEO        Stage = "CEO"
	StageResearch   Stage = "Research"
	StageDeveloper  Stage = "Developer"
	StageWriter     Stage = "Writer"
	StageConfidence Stage = "Confidence"
	StageReviewer   Stage = "Reviewer"
)

// Pipeline is the fixed agent order shown for every run.
var Pipeline = []Stage{
	StageCEO,
	StageResearch,
	StageDeveloper,
	StageWriter,
	StageConfidence,
	StageReviewer,
}

// PipelineNames returns a fresh copy of Pipeline as plain strings.
func PipelineNames() []string {
	names := make([]string, len(Pipeline))
	for i, s := range Pipeline {
		names[i] = string(s)
	}
	return names
}
