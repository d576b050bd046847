package telemetry

import "github.com/Aman-CERP/fusesearch/internal/fusion"

// Multi fans a search record out to several observers in order.
type Multi []fusion.Observer

// NewMulti drops nil observers.
func NewMulti(observers ...fusion.Observer) Multi {
	m := make(Multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

func (m Multi) ObserveSearch(rec fusion.SearchRecord) {
	for _, o := range m {
		o.ObserveSearch(rec)
	}
}
