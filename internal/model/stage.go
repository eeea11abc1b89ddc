package model

// Stage names one directory-to-directory phase of the pipeline.
type Stage string

const (
	StageMask    Stage = "mask"
	StageClean   Stage = "clean"
	StageEnhance Stage = "enhance"
	StagePackage Stage = "package"
	StagePublish Stage = "publish"
)

// Item statuses reported for every unit a stage touches.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)
