package engine

import "github.com/geoglobe/globe/pkg/core"

// Listener receives engine events. Calls arrive synchronously from inside the intent or
// load that caused them, with the engine lock held: implementations must not call back
// into the engine and should hand off anything slow.
type Listener interface {
	OnHover(e *core.Entity)
	OnSelect(e *core.Entity)
	StatsUpdated(stats core.Stats, metricID string)
	LegendUpdated(legend core.Legend)
	OnNotice(n core.Notice)
}

// NopListener ignores every event.
type NopListener struct{}

func (NopListener) OnHover(*core.Entity)            {}
func (NopListener) OnSelect(*core.Entity)           {}
func (NopListener) StatsUpdated(core.Stats, string) {}
func (NopListener) LegendUpdated(core.Legend)       {}
func (NopListener) OnNotice(core.Notice)            {}

// MultiListener fans events out to several listeners in order.
type MultiListener []Listener

func (m MultiListener) OnHover(e *core.Entity) {
	for _, l := range m {
		l.OnHover(e)
	}
}

func (m MultiListener) OnSelect(e *core.Entity) {
	for _, l := range m {
		l.OnSelect(e)
	}
}

func (m MultiListener) StatsUpdated(stats core.Stats, metricID string) {
	for _, l := range m {
		l.StatsUpdated(stats, metricID)
	}
}

func (m MultiListener) LegendUpdated(legend core.Legend) {
	for _, l := range m {
		l.LegendUpdated(legend)
	}
}

func (m MultiListener) OnNotice(n core.Notice) {
	for _, l := range m {
		l.OnNotice(n)
	}
}
