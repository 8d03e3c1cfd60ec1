package models

// Stage is a step of the patch pipeline. Stages only move forward.
type Stage int

const (
	StageNone Stage = iota
	StageOpened
	StageManifestExtracted
	StageMetadataBuilt
	StageManifestRewritten
	StagePayloadInjected
	StageModulesEmbedded
	StageOriginalContentLinked
	StageRealigned
	StageSigned
	StageClosed
)

var stageNames = [...]string{
	StageNone:                  "None",
	StageOpened:                "Opened",
	StageManifestExtracted:     "ManifestExtracted",
	StageMetadataBuilt:         "MetadataBuilt",
	StageManifestRewritten:     "ManifestRewritten",
	StagePayloadInjected:       "PayloadInjected",
	StageModulesEmbedded:       "ModulesEmbedded",
	StageOriginalContentLinked: "OriginalContentLinked",
	StageRealigned:             "Realigned",
	StageSigned:                "Signed",
	StageClosed:                "Closed",
}

// String returns the string representation of Stage
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "Unknown"
	}
	return stageNames[s]
}
