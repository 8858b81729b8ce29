package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/couchcryptid/ensemble-features/internal/domain"
)

// groupFile is the YAML layout of FEATURE_GROUPS_FILE.
type groupFile struct {
	Groups []groupEntry `yaml:"groups"`
}

type groupEntry struct {
	ID           string `yaml:"id"`
	Current      string `yaml:"current"`
	Reference    string `yaml:"reference"`
	ReferenceLag *int   `yaml:"reference_lag"`
	RowLag       int    `yaml:"row_lag"`
	Lo           int    `yaml:"lo"`
	Hi           int    `yaml:"hi"`
	Anchor       string `yaml:"anchor"` // "reference" (default) or "current"
	NoonHour     *int   `yaml:"noon_hour"`
}

// LoadGroups reads feature group definitions from a YAML file. The listed
// groups replace the defaults entirely; ids must belong to domain.GroupID.
func LoadGroups(path string, noonHour int) ([]domain.GroupSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseGroups(data, noonHour)
}

// ParseGroups decodes YAML group definitions. Unknown keys are rejected.
func ParseGroups(data []byte, noonHour int) ([]domain.GroupSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file groupFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode feature groups: %w", err)
	}
	if len(file.Groups) == 0 {
		return nil, errors.New("no feature groups defined")
	}

	groups := make([]domain.GroupSpec, 0, len(file.Groups))
	for _, e := range file.Groups {
		g, err := e.spec(noonHour)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := domain.ValidateGroups(groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (e groupEntry) spec(noonHour int) (domain.GroupSpec, error) {
	id, err := domain.ParseGroupID(e.ID)
	if err != nil {
		return domain.GroupSpec{}, fmt.Errorf("%w (known: %v)", err, domain.KnownGroups())
	}

	g := domain.GroupSpec{
		ID:           id,
		Current:      e.Current,
		Reference:    e.Reference,
		ReferenceLag: 1,
		RowLag:       e.RowLag,
		Lo:           e.Lo,
		Hi:           e.Hi,
		NoonHour:     noonHour,
	}
	if e.ReferenceLag != nil {
		g.ReferenceLag = *e.ReferenceLag
	}
	if e.NoonHour != nil {
		g.NoonHour = *e.NoonHour
	}

	switch e.Anchor {
	case "", "reference":
		g.Anchor = domain.AnchorReference
	case "current":
		g.Anchor = domain.AnchorCurrent
	default:
		return domain.GroupSpec{}, fmt.Errorf("group %s: unknown anchor %q", id, e.Anchor)
	}
	return g, nil
}
