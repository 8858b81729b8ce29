package domain

import (
	"errors"
	"fmt"
)

// GroupID identifies a feature group. The set is closed; column names are a
// function of the group, never free-form strings.
type GroupID string

const (
	GroupEnsembleRevision GroupID = "ecmwf-eps-revision"
	GroupGFSDivergence    GroupID = "gfs-ens-bc-divergence"
	GroupCMCDivergence    GroupID = "cmc-ens-divergence"
	GroupECMWFDivergence  GroupID = "ecmwf-divergence"
	GroupDay8Error        GroupID = "day8-error"
	GroupLaggedError      GroupID = "lagged-error"
	GroupNoon             GroupID = "noon"
)

// NoonColumn is the column produced by GroupNoon.
const NoonColumn = "noon"

var knownGroups = []GroupID{
	GroupGFSDivergence,
	GroupCMCDivergence,
	GroupECMWFDivergence,
	GroupLaggedError,
	GroupDay8Error,
	GroupEnsembleRevision,
	GroupNoon,
}

// KnownGroups returns every GroupID in assembly order.
func KnownGroups() []GroupID {
	out := make([]GroupID, len(knownGroups))
	copy(out, knownGroups)
	return out
}

// ParseGroupID validates s against the closed GroupID set.
func ParseGroupID(s string) (GroupID, error) {
	for _, id := range knownGroups {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGroup, s)
}

// Anchor selects which run absorbs the offset.
type Anchor int

const (
	// AnchorReference reads current[i-offset] against reference[i].
	AnchorReference Anchor = iota
	// AnchorCurrent reads current[i] against reference[i+offset].
	AnchorCurrent
)

// GroupSpec configures one feature group.
type GroupSpec struct {
	ID        GroupID
	Current   string
	Reference string

	// ReferenceLag is 0 when the reference is read from the same cycle as
	// the current model and 1 when it is read from the previous cycle. The
	// offset is only applied for lag 1.
	ReferenceLag int

	// RowLag evaluates the group on an earlier step and stamps the row with
	// the current run's issue time. The offset still comes from the current step.
	RowLag int

	// Lo and Hi bound the window of zero-based series indices, inclusive.
	Lo, Hi int

	Anchor Anchor

	// NoonHour is the mid-day cycle hour, used by GroupNoon only.
	NoonHour int
}

// Column names the feature for series index i.
func (g GroupSpec) Column(i int) string {
	switch g.ID {
	case GroupECMWFDivergence:
		return fmt.Sprintf("%s_diff_%d", g.Current, i)
	case GroupDay8Error:
		return fmt.Sprintf("day_%d_error", i+1)
	case GroupLaggedError:
		return fmt.Sprintf("error_%d", i+1)
	case GroupNoon:
		return NoonColumn
	default:
		return fmt.Sprintf("%s_%d", g.Current, i+1)
	}
}

// Columns lists the group's column names in window order.
func (g GroupSpec) Columns() []string {
	if g.ID == GroupNoon {
		return []string{g.Column(0)}
	}
	cols := make([]string, 0, g.Hi-g.Lo+1)
	for i := g.Lo; i <= g.Hi; i++ {
		cols = append(cols, g.Column(i))
	}
	return cols
}

// Models returns the models the group reads snapshots from.
func (g GroupSpec) Models() []string {
	switch {
	case g.ID == GroupNoon:
		return nil
	case g.Current == g.Reference:
		return []string{g.Current}
	default:
		return []string{g.Current, g.Reference}
	}
}

// Validate checks the group is internally consistent.
func (g GroupSpec) Validate() error {
	if _, err := ParseGroupID(string(g.ID)); err != nil {
		return err
	}
	if g.ID == GroupNoon {
		if g.NoonHour < 0 || g.NoonHour > 23 {
			return fmt.Errorf("group %s: noon hour %d out of range", g.ID, g.NoonHour)
		}
		return nil
	}
	if g.Current == "" || g.Reference == "" {
		return fmt.Errorf("group %s: current and reference models are required", g.ID)
	}
	if g.Lo < 0 || g.Hi < g.Lo {
		return fmt.Errorf("group %s: invalid window [%d, %d]", g.ID, g.Lo, g.Hi)
	}
	if g.ReferenceLag != 0 && g.ReferenceLag != 1 {
		return fmt.Errorf("group %s: reference lag must be 0 or 1", g.ID)
	}
	if g.RowLag != 0 && g.RowLag != 1 {
		return fmt.Errorf("group %s: row lag must be 0 or 1", g.ID)
	}
	return nil
}

// ValidateGroups checks each group and rejects duplicate ids or column names.
func ValidateGroups(groups []GroupSpec) error {
	seenID := make(map[GroupID]bool, len(groups))
	seenCol := make(map[string]GroupID)
	var errs []error
	for _, g := range groups {
		if err := g.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seenID[g.ID] {
			errs = append(errs, fmt.Errorf("group %s configured twice", g.ID))
			continue
		}
		seenID[g.ID] = true
		for _, c := range g.Columns() {
			if owner, ok := seenCol[c]; ok {
				errs = append(errs, fmt.Errorf("%w: %q in %s and %s", ErrColumnCollision, c, owner, g.ID))
				continue
			}
			seenCol[c] = g.ID
		}
	}
	return errors.Join(errs...)
}

// DefaultGroups returns the feature groups of the reference system.
func DefaultGroups(noonHour int) []GroupSpec {
	const (
		eps   = "ecmwf-eps"
		ecmwf = "ecmwf"
		gfs   = "gfs-ens-bc"
		cmc   = "cmc-ens"
	)
	return []GroupSpec{
		{ID: GroupGFSDivergence, Current: gfs, Reference: eps, ReferenceLag: 1, Lo: 8, Hi: 13},
		{ID: GroupCMCDivergence, Current: cmc, Reference: gfs, ReferenceLag: 0, Lo: 8, Hi: 13},
		{ID: GroupECMWFDivergence, Current: ecmwf, Reference: eps, ReferenceLag: 1, Lo: 8, Hi: 9},
		{ID: GroupLaggedError, Current: eps, Reference: eps, ReferenceLag: 1, RowLag: 1, Lo: 8, Hi: 13},
		{ID: GroupDay8Error, Current: eps, Reference: eps, ReferenceLag: 1, Lo: 7, Hi: 7, Anchor: AnchorCurrent},
		{ID: GroupEnsembleRevision, Current: eps, Reference: eps, ReferenceLag: 1, Lo: 8, Hi: 13},
		{ID: GroupNoon, NoonHour: noonHour},
	}
}
