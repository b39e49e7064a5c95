package sdbus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"svcnotify/internal/unit"
)

// ListMatchRules returns every match rule the bus daemon holds, keyed by
// connection name. The Debug.Stats interface is usually restricted to root.
func ListMatchRules(ctx context.Context, caller Caller) (map[string][]string, error) {
	var rules map[string][]string
	if err := caller.Call(ctx, BusName, BusPath, DebugStatsInterface+".GetAllMatchRules").Store(&rules); err != nil {
		return nil, fmt.Errorf("GetAllMatchRules: %w", err)
	}
	return rules, nil
}

// FilterRules returns the rules containing every needle, sorted.
func FilterRules(all map[string][]string, needles ...string) []string {
	var out []string
	for _, rules := range all {
	next:
		for _, r := range rules {
			for _, n := range needles {
				if !strings.Contains(r, n) {
					continue next
				}
			}
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

// JobRemovedRuleNeedles identify the watcher's own subscription in a rule.
func JobRemovedRuleNeedles() []string {
	return []string{
		"'" + ManagerInterface + "'",
		"'" + string(unit.ManagerPath) + "'",
		"'" + SignalJobRemoved + "'",
	}
}

// ListMatchingSubscriptions returns the registered rules that would deliver
// JobRemoved to a watcher.
func ListMatchingSubscriptions(ctx context.Context, caller Caller) ([]string, error) {
	all, err := ListMatchRules(ctx, caller)
	if err != nil {
		return nil, err
	}
	return FilterRules(all, JobRemovedRuleNeedles()...), nil
}
