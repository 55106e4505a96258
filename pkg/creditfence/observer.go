package creditfence

// Observer receives limiter activity. Calls happen synchronously on the
// deciding goroutine (or the sweeper), so implementations must return fast
// and must not call back into the limiter.
type Observer interface {
	// ObserveDecision is called once per decision, allowed or not.
	ObserveDecision(d Decision)

	// ObserveSweep is called after each sweep with the limiter's route, the
	// number of buckets removed and the number still tracked.
	ObserveSweep(route string, removed, remaining int)
}

type observers []Observer

func (o observers) decision(d Decision) {
	for _, obs := range o {
		obs.ObserveDecision(d)
	}
}

func (o observers) sweep(route string, removed, remaining int) {
	for _, obs := range o {
		obs.ObserveSweep(route, removed, remaining)
	}
}
