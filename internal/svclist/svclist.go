// Package svclist implements the unit listing tool: it lists the manager's
// units with their load, active and unit-file states, filtered and grouped
// by unit type.
package svclist

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	sddbus "github.com/coreos/go-systemd/v22/dbus"

	"svcnotify/internal/unit"
)

// Source is the part of *sddbus.Conn the lister uses.
type Source interface {
	ListUnitsContext(ctx context.Context) ([]sddbus.UnitStatus, error)
	GetUnitPropertyContext(ctx context.Context, unit, propertyName string) (*sddbus.Property, error)
}

// Connect opens a go-systemd manager connection to the system manager, or
// to the per-user manager when user is set.
func Connect(ctx context.Context, user bool) (*sddbus.Conn, error) {
	var (
		conn *sddbus.Conn
		err  error
	)
	if user {
		conn, err = sddbus.NewUserConnectionContext(ctx)
	} else {
		conn, err = sddbus.NewSystemConnectionContext(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return conn, nil
}

// Sort keys accepted by Options.SortBy. Anything else sorts by name.
const (
	SortName       = "name"
	SortLoaded     = "loaded"
	SortActive     = "active"
	SortSubActive  = "sub-active"
	SortFileState  = "file-state"
	SortFilePreset = "file-preset"
)

var SortKeys = []string{SortLoaded, SortActive, SortSubActive, SortFileState, SortFilePreset}

// Filter holds allow-lists; an empty list accepts everything. Types
// defaults to services only, and "all" accepts every type.
type Filter struct {
	Types      []string
	Loaded     []string
	Active     []string
	SubActive  []string
	FileState  []string
	FilePreset []string
}

type Options struct {
	Filter   Filter
	SortBy   string
	DescFile bool
}

// Unit is one listed row.
type Unit struct {
	Name        string
	Description string
	Loaded      string
	Active      string
	SubActive   string
	FileState   string
	FilePreset  string
	Fragment    string
}

// Group collects the listed units of one type.
type Group struct {
	Type  string
	Units []Unit
	// Total counts units of this type before filtering.
	Total int
	// Counts maps a column header to per-value counts of the listed units.
	Counts map[string]map[string]int
}

// Column headers, in display order.
var Columns = []string{"Loaded", "Active", "SubActive", "FileState", "FilePreset"}

func (u Unit) column(i int) string {
	switch i {
	case 0:
		return u.Loaded
	case 1:
		return u.Active
	case 2:
		return u.SubActive
	case 3:
		return u.FileState
	default:
		return u.FilePreset
	}
}

func accepts(list []string, v string) bool {
	return len(list) == 0 || slices.Contains(list, v)
}

func (f Filter) acceptsType(t string) bool {
	if len(f.Types) == 0 {
		return t == "service"
	}
	return slices.Contains(f.Types, "all") || slices.Contains(f.Types, t)
}

// Collect lists units, applies opts and returns groups sorted by type.
// Unit file properties are fetched only for units that pass the cheaper
// filters.
func Collect(ctx context.Context, src Source, opts Options) ([]Group, error) {
	all, err := src.ListUnitsContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}

	totals := map[string]int{}
	groups := map[string]*Group{}
	f := opts.Filter

	for _, st := range all {
		typ := unitType(st.Name)
		totals[typ]++

		if !f.acceptsType(typ) || !accepts(f.Loaded, st.LoadState) ||
			!accepts(f.Active, st.ActiveState) || !accepts(f.SubActive, st.SubState) {
			continue
		}

		fileState, err := stringProperty(ctx, src, st.Name, "UnitFileState")
		if err != nil {
			return nil, err
		}
		if !accepts(f.FileState, fileState) {
			continue
		}
		preset, err := stringProperty(ctx, src, st.Name, "UnitFilePreset")
		if err != nil {
			return nil, err
		}
		if !accepts(f.FilePreset, preset) {
			continue
		}

		u := Unit{
			Name:        unit.UnescapeListName(st.Name),
			Description: st.Description,
			Loaded:      st.LoadState,
			Active:      st.ActiveState,
			SubActive:   st.SubState,
			FileState:   strings.ReplaceAll(fileState, "-runtime", "-rt"),
			FilePreset:  preset,
		}
		if opts.DescFile {
			if u.Fragment, err = stringProperty(ctx, src, st.Name, "FragmentPath"); err != nil {
				return nil, err
			}
		}

		g := groups[typ]
		if g == nil {
			g = &Group{Type: typ, Counts: map[string]map[string]int{}}
			groups[typ] = g
		}
		g.Units = append(g.Units, u)
		for i, col := range Columns {
			v := u.column(i)
			if v == "" {
				continue
			}
			if g.Counts[col] == nil {
				g.Counts[col] = map[string]int{}
			}
			g.Counts[col][v]++
		}
	}

	out := make([]Group, 0, len(groups))
	for typ, g := range groups {
		g.Total = totals[typ]
		sortUnits(g.Units, opts.SortBy)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func unitType(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func stringProperty(ctx context.Context, src Source, name, prop string) (string, error) {
	p, err := src.GetUnitPropertyContext(ctx, name, prop)
	if err != nil {
		return "", fmt.Errorf("get %s of %s: %w", prop, name, err)
	}
	if p == nil {
		return "", nil
	}
	s, _ := p.Value.Value().(string)
	return s, nil
}

func sortKey(u Unit, by string) string {
	var k string
	switch by {
	case SortLoaded:
		k = u.Loaded
	case SortActive:
		k = u.Active
	case SortSubActive:
		k = u.SubActive
	case SortFileState:
		k = u.FileState
	case SortFilePreset:
		k = u.FilePreset
	default:
		k = u.Name
	}
	return strings.ToLower(k)
}

// sortUnits is stable so units with equal keys keep the manager's order.
func sortUnits(units []Unit, by string) {
	sort.SliceStable(units, func(i, j int) bool { return sortKey(units[i], by) < sortKey(units[j], by) })
}
