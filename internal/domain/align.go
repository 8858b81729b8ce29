package domain

import (
	"slices"
	"sort"
)

// AlignedRuns is the sequence of runs present in every required model,
// ascending by issue time, with each model's file for every run.
type AlignedRuns struct {
	Keys   []RunKey
	Passes int

	files map[string]map[RunKey]SnapshotFile
}

// Len returns the number of aligned runs.
func (a AlignedRuns) Len() int { return len(a.Keys) }

// Models returns the aligned model names, sorted.
func (a AlignedRuns) Models() []string {
	models := make([]string, 0, len(a.files))
	for m := range a.files {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

// File returns model's snapshot for the i-th aligned run.
func (a AlignedRuns) File(model string, i int) (SnapshotFile, bool) {
	if i < 0 || i >= len(a.Keys) {
		return SnapshotFile{}, false
	}
	f, ok := a.files[model][a.Keys[i]]
	return f, ok
}

// Align reduces per-model sorted catalogs to the runs present in all of them.
// Each pass filters every model's list against the key sets of all other
// models; passes repeat until no list changes size. An empty result is an
// AlignmentEmptyError.
func Align(catalogs map[string][]SnapshotFile) (AlignedRuns, error) {
	counts := make(map[string]int, len(catalogs))
	models := make([]string, 0, len(catalogs))
	lists := make(map[string][]SnapshotFile, len(catalogs))
	for m, files := range catalogs {
		counts[m] = len(files)
		models = append(models, m)
		lists[m] = slices.Clone(files)
	}
	sort.Strings(models)

	if len(models) == 0 {
		return AlignedRuns{}, &AlignmentEmptyError{Counts: counts}
	}

	passes := 0
	for {
		passes++
		changed := false
		for _, m := range models {
			others := otherKeySets(lists, models, m)
			filtered := lists[m][:0:0]
			for _, f := range lists[m] {
				if inAll(others, f.Key) {
					filtered = append(filtered, f)
				}
			}
			if len(filtered) != len(lists[m]) {
				changed = true
			}
			lists[m] = filtered
		}
		if !changed {
			break
		}
	}

	files := make(map[string]map[RunKey]SnapshotFile, len(models))
	for _, m := range models {
		byKey := make(map[RunKey]SnapshotFile, len(lists[m]))
		for _, f := range lists[m] {
			if _, dup := byKey[f.Key]; !dup {
				byKey[f.Key] = f
			}
		}
		files[m] = byKey
	}

	keys := make([]RunKey, 0, len(files[models[0]]))
	for k := range files[models[0]] {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, RunKey.Compare)

	if len(keys) == 0 {
		return AlignedRuns{}, &AlignmentEmptyError{Counts: counts}
	}
	return AlignedRuns{Keys: keys, Passes: passes, files: files}, nil
}

func otherKeySets(lists map[string][]SnapshotFile, models []string, self string) []map[RunKey]struct{} {
	sets := make([]map[RunKey]struct{}, 0, len(models)-1)
	for _, other := range models {
		if other == self {
			continue
		}
		set := make(map[RunKey]struct{}, len(lists[other]))
		for _, f := range lists[other] {
			set[f.Key] = struct{}{}
		}
		sets = append(sets, set)
	}
	return sets
}

func inAll(sets []map[RunKey]struct{}, key RunKey) bool {
	for _, set := range sets {
		if _, ok := set[key]; !ok {
			return false
		}
	}
	return true
}
