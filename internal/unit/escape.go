// Package unit holds the conversions between systemd unit names and the
// object paths the manager exports them under.
package unit

import (
	"strings"

	"github.com/godbus/dbus/v5"
)

// ManagerPath is the object path of the systemd manager.
const ManagerPath dbus.ObjectPath = "/org/freedesktop/systemd1"

// unitPrefix is the parent of every per-unit object.
const unitPrefix = string(ManagerPath) + "/unit/"

// replacements is the fixed escape table; one entry per path-unsafe character.
// "_" must stay in the table so an escaped name is never mistaken for a raw one.
var replacements = [][2]string{
	{"_", "_5f"},
	{"-", "_2d"},
	{".", "_2e"},
	{"/", "_2f"},
	{":", "_3a"},
	{"@", "_40"},
	{"\\", "_5c"},
}

var (
	escaper   *strings.Replacer
	unescaper *strings.Replacer
)

func init() {
	fwd := make([]string, 0, 2*len(replacements))
	rev := make([]string, 0, 2*len(replacements))
	for _, r := range replacements {
		fwd = append(fwd, r[0], r[1])
		rev = append(rev, r[1], r[0])
	}
	// strings.Replacer is single pass, so "_" -> "_5f" output is never rescanned.
	escaper = strings.NewReplacer(fwd...)
	unescaper = strings.NewReplacer(rev...)
}

// Escape converts a unit name into its object path element.
//
// Unlike go-systemd's PathBusEscape, a leading digit is not escaped
// ("1foo.service" stays "1foo_2eservice"); systemd accepts that path too.
func Escape(name string) string { return escaper.Replace(name) }

// Unescape reverses Escape.
func Unescape(elem string) string { return unescaper.Replace(elem) }

// ObjectPath returns the manager object path for the named unit.
func ObjectPath(name string) dbus.ObjectPath {
	return dbus.ObjectPath(unitPrefix + Escape(name))
}

// NameFromPath recovers the unit name from a per-unit object path.
// ok is false when path is not below the manager's unit prefix.
func NameFromPath(path dbus.ObjectPath) (name string, ok bool) {
	s := string(path)
	if !strings.HasPrefix(s, unitPrefix) || len(s) == len(unitPrefix) {
		return "", false
	}
	return Unescape(s[len(unitPrefix):]), true
}

// UnescapeListName undoes the \x2d escaping systemd applies to names of
// device and mount units in ListUnits output.
func UnescapeListName(name string) string {
	return strings.ReplaceAll(name, `\x2d`, "-")
}
