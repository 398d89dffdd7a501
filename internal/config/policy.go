package config

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/wamux/internal/client"
	"github.com/Iron-Ham/wamux/internal/logging"
)

// CallbackPolicy answers whether an event category is forwarded to the
// delivery channels. The disabled set can be swapped at runtime.
type CallbackPolicy struct {
	disabled atomic.Pointer[map[client.Category]struct{}]
	logger   *logging.Logger
}

// NewCallbackPolicy builds a policy from a list of disabled category names.
func NewCallbackPolicy(disabled []string, logger *logging.Logger) *CallbackPolicy {
	if logger == nil {
		logger = logging.NopLogger()
	}
	p := &CallbackPolicy{logger: logger}
	set := toSet(disabled)
	p.disabled.Store(&set)
	return p
}

func toSet(names []string) map[client.Category]struct{} {
	set := make(map[client.Category]struct{}, len(names))
	for _, n := range names {
		set[client.Category(n)] = struct{}{}
	}
	return set
}

// Enabled reports whether category is forwarded.
func (p *CallbackPolicy) Enabled(_ context.Context, category client.Category) bool {
	_, off := (*p.disabled.Load())[category]
	return !off
}

// Update replaces the disabled set and returns the categories whose
// enablement changed, sorted.
func (p *CallbackPolicy) Update(disabled []string) []client.Category {
	next := toSet(disabled)
	prev := *p.disabled.Swap(&next)

	var changed []client.Category
	for c := range prev {
		if _, ok := next[c]; !ok {
			changed = append(changed, c)
		}
	}
	for c := range next {
		if _, ok := prev[c]; !ok {
			changed = append(changed, c)
		}
	}
	slices.Sort(changed)
	return changed
}

// Apply updates the policy from cfg and logs every changed category.
// Subscriptions are fixed when a session is set up, so a change reaches
// existing sessions only for qr, which is checked on every occurrence.
func (p *CallbackPolicy) Apply(cfg *Config) {
	for _, c := range p.Update(cfg.Events.DisabledCategories()) {
		enabled := p.Enabled(context.Background(), c)
		if c == client.CategoryQR {
			p.logger.Info("event policy changed", "category", string(c), "enabled", enabled)
			continue
		}
		p.logger.Warn("event policy changed; applies to sessions set up from now on",
			"category", string(c), "enabled", enabled)
	}
}

// Watch reloads the policy whenever v's config file changes. Invalid
// configurations are logged and ignored.
func (p *CallbackPolicy) Watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := LoadFrom(v)
		if err != nil {
			p.logger.Error("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		p.Apply(cfg)
	})
	v.WatchConfig()
}
