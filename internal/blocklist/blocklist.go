// Package blocklist holds the operator-maintained list of units whose
// transitions to "inactive" are not worth a notification.
//
// File format, one entry per line:
//
//	# comment
//	anacron.service
//	REGEX|apt-daily(-upgrade)?\.service
//
// Blank and "#" lines are skipped. Lines starting with RegexMarker are joined
// with "|" into one pattern anchored at the start of the unit name; all
// other lines are exact names.
package blocklist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// RegexMarker prefixes a line holding a regex fragment.
const RegexMarker = "REGEX|"

// DefaultPath is where the watcher looks for the list when none is configured.
const DefaultPath = "/etc/systemd-svc-watcher/ignore.list"

const stateInactive = "inactive"

// Blocklist is one immutable generation of the list.
// A nil *Blocklist is empty.
type Blocklist struct {
	names    map[string]struct{}
	re       *regexp.Regexp
	patterns int
}

// Parse reads a blocklist from r.
func Parse(r io.Reader) (*Blocklist, error) {
	bl := &Blocklist{names: map[string]struct{}{}}
	var frags []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if frag, ok := strings.CutPrefix(line, RegexMarker); ok {
			if frag = strings.TrimSpace(frag); frag != "" {
				frags = append(frags, frag)
			}
			continue
		}
		bl.names[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(frags) > 0 {
		re, err := regexp.Compile("^(?:" + strings.Join(frags, "|") + ")")
		if err != nil {
			return nil, fmt.Errorf("compile regex entries: %w", err)
		}
		bl.re = re
		bl.patterns = len(frags)
	}
	return bl, nil
}

// Load reads the blocklist at path. A missing file is reported with an error
// matching fs.ErrNotExist; callers treat it as "nothing to load".
func Load(path string) (*Blocklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bl, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return bl, nil
}

// Len returns the number of exact names and regex fragments.
func (b *Blocklist) Len() (names, patterns int) {
	if b == nil {
		return 0, 0
	}
	return len(b.names), b.patterns
}

// Matches reports whether unit is listed, either exactly or by pattern.
func (b *Blocklist) Matches(unit string) bool {
	if b == nil {
		return false
	}
	if _, ok := b.names[unit]; ok {
		return true
	}
	return b.re != nil && b.re.MatchString(unit)
}

// IsSuppressed reports whether a transition of unit into activeState should
// be silenced. Only transitions to "inactive" are ever suppressed.
func (b *Blocklist) IsSuppressed(unit, activeState string) bool {
	if activeState != stateInactive {
		return false
	}
	return b.Matches(unit)
}
