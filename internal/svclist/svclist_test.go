package svclist

import (
	"bytes"
	"context"
	"errors"
	"testing"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/godbus/dbus/v5"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	units []sddbus.UnitStatus
	props map[string]map[string]string
	calls int
	err   error
}

func (f *fakeSource) ListUnitsContext(context.Context) ([]sddbus.UnitStatus, error) {
	return f.units, f.err
}

func (f *fakeSource) GetUnitPropertyContext(_ context.Context, unit, prop string) (*sddbus.Property, error) {
	f.calls++
	v, ok := f.props[unit][prop]
	if !ok {
		return nil, errors.New("no such property")
	}
	return &sddbus.Property{Name: prop, Value: dbus.MakeVariant(v)}, nil
}

func sample() *fakeSource {
	props := func(state, preset, frag string) map[string]string {
		return map[string]string{"UnitFileState": state, "UnitFilePreset": preset, "FragmentPath": frag}
	}
	return &fakeSource{
		units: []sddbus.UnitStatus{
			{Name: "sshd.service", Description: "OpenSSH", LoadState: "loaded", ActiveState: "active", SubState: "running"},
			{Name: "backup.service", LoadState: "loaded", ActiveState: "failed", SubState: "failed"},
			{Name: "systemd-fsck@dev\\x2dsda1.service", LoadState: "loaded", ActiveState: "inactive", SubState: "dead"},
			{Name: "tmp.mount", LoadState: "loaded", ActiveState: "active", SubState: "mounted"},
			{Name: "gone.service", LoadState: "not-found", ActiveState: "inactive", SubState: "dead"},
		},
		props: map[string]map[string]string{
			"sshd.service":                      props("enabled", "enabled", "/usr/lib/systemd/system/sshd.service"),
			"backup.service":                    props("enabled-runtime", "disabled", ""),
			"systemd-fsck@dev\\x2dsda1.service": props("static", "", ""),
			"tmp.mount":                         props("static", "", ""),
			"gone.service":                      props("", "", ""),
		},
	}
}

func names(g Group) []string {
	out := make([]string, len(g.Units))
	for i, u := range g.Units {
		out[i] = u.Name
	}
	return out
}

func TestCollectDefaultsToServices(t *testing.T) {
	groups, err := Collect(context.Background(), sample(), Options{})
	require.NoError(t, err)
	require.Len(t, groups, 1)

	g := groups[0]
	assert.Equal(t, "service", g.Type)
	assert.Equal(t, 4, g.Total)
	want := []string{"backup.service", "gone.service", "sshd.service", "systemd-fsck@dev-sda1.service"}
	if diff := cmp.Diff(want, names(g)); diff != "" {
		t.Fatalf("names (-want +got):\n%s", diff)
	}
	assert.Equal(t, "enabled-rt", g.Units[0].FileState)
	assert.Equal(t, map[string]int{"loaded": 3, "not-found": 1}, g.Counts["Loaded"])
}

func TestCollectFilters(t *testing.T) {
	src := sample()
	groups, err := Collect(context.Background(), src, Options{Filter: Filter{
		Types:  []string{"all"},
		Loaded: []string{"loaded"},
		Active: []string{"active"},
	}})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "mount", groups[0].Type)
	assert.Equal(t, []string{"sshd.service"}, names(groups[1]))
	assert.Equal(t, 4, src.calls, "file properties fetched only for rows that passed")

	groups, err = Collect(context.Background(), sample(), Options{Filter: Filter{FileState: []string{"enabled-runtime"}}})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"backup.service"}, names(groups[0]))

	groups, err = Collect(context.Background(), sample(), Options{Filter: Filter{FilePreset: []string{"disabled"}, Types: []string{"mount"}}})
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCollectSortBy(t *testing.T) {
	groups, err := Collect(context.Background(), sample(), Options{SortBy: SortActive})
	require.NoError(t, err)
	assert.Equal(t, []string{"active", "failed", "inactive", "inactive"}, []string{
		groups[0].Units[0].Active, groups[0].Units[1].Active, groups[0].Units[2].Active, groups[0].Units[3].Active,
	})
}

func TestCollectDescFile(t *testing.T) {
	groups, err := Collect(context.Background(), sample(), Options{DescFile: true, Filter: Filter{Active: []string{"active"}}})
	require.NoError(t, err)
	assert.Equal(t, "/usr/lib/systemd/system/sshd.service", groups[0].Units[0].Fragment)
}

func TestCollectErrors(t *testing.T) {
	_, err := Collect(context.Background(), &fakeSource{err: errors.New("denied")}, Options{})
	assert.ErrorContains(t, err, "denied")

	src := sample()
	delete(src.props, "sshd.service")
	_, err = Collect(context.Background(), src, Options{})
	assert.ErrorContains(t, err, "UnitFileState of sshd.service")
}

func TestPrinter(t *testing.T) {
	groups, err := Collect(context.Background(), sample(), Options{DescFile: true, Filter: Filter{Active: []string{"active", "failed"}}})
	require.NoError(t, err)

	var out, meta bytes.Buffer
	require.NoError(t, Printer{Out: &out, Meta: &meta}.Print(groups, true))

	assert.Contains(t, meta.String(), "SERVICES: 2 / 4")
	assert.Contains(t, meta.String(), "Active: active: 1, failed: 1")
	assert.Contains(t, out.String(), "Name")
	assert.Contains(t, out.String(), "Desc: OpenSSH")
	assert.Contains(t, out.String(), "File: /usr/lib/systemd/system/sshd.service")
	assert.NotContains(t, out.String(), "\033[1m")
}
