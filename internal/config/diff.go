package config

import "reflect"

// ChangedSections lists the top-level sections that differ between two
// configs, in declaration order. Values are never returned so secrets stay
// out of logs.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"telegram", oldCfg.Telegram, newCfg.Telegram},
		{"feed", oldCfg.Feed, newCfg.Feed},
		{"state", oldCfg.State, newCfg.State},
		{"translate", oldCfg.Translate, newCfg.Translate},
		{"delivery", oldCfg.Delivery, newCfg.Delivery},
		{"health", oldCfg.Health, newCfg.Health},
		{"logging", oldCfg.Logging, newCfg.Logging},
	}
	var changed []string
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

// LiveSections are applied without a restart.
var LiveSections = map[string]bool{"logging": true}

// RestartRequired returns the changed sections that only take effect after
// a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		if !LiveSections[s] {
			out = append(out, s)
		}
	}
	return out
}
