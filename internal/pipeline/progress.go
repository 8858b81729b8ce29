package pipeline

// Stage names the step a run is in.
type Stage string

const (
	StageIdle       Stage = "idle"
	StageCataloging Stage = "cataloging"
	StageAligning   Stage = "aligning"
	StageDeriving   Stage = "deriving"
	StagePersisting Stage = "persisting"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Progress is a point-in-time view of the current or last run.
type Progress struct {
	Stage       Stage  `json:"stage"`
	RunID       string `json:"run_id,omitempty"`
	AlignedRuns int    `json:"aligned_runs"`
	Step        int    `json:"step"`
	Steps       int    `json:"steps"`
	Skipped     int    `json:"skipped"`
	Rows        int    `json:"rows"`
	Error       string `json:"error,omitempty"`
}

// Progress returns a copy of the run progress.
func (p *Pipeline) Progress() Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

func (p *Pipeline) update(fn func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.progress)
}
