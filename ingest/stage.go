package ingest

// Stage is the position of one upload in the pipeline.
type Stage int

const (
	StageReceived Stage = iota
	StageStaged
	StageDecoded
	StageMetadataExtracted
	StagePersisted
	StagePreviewPublished
	StageComplete
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageReceived:
		return "received"
	case StageStaged:
		return "staged"
	case StageDecoded:
		return "decoded"
	case StageMetadataExtracted:
		return "metadata_extracted"
	case StagePersisted:
		return "persisted"
	case StagePreviewPublished:
		return "preview_published"
	case StageComplete:
		return "complete"
	case StageFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}
