package driver

import "github.com/velabft/core/effect"

// orderEffects realizes the ordering rule of spec.md §5: outbound
// messages first, then timeout operations, then value requests. WAL
// persistence itself is not represented here — the interpreter persists
// the triggering input before calling into the driver at all, which
// already satisfies "no Broadcast/Decide is emitted before its causing
// input is durable" without the driver needing to model persistence as
// an effect.
func orderEffects(effects []effect.Effect) []effect.Effect {
	if len(effects) < 2 {
		return effects
	}
	var messages, timeouts, requests []effect.Effect
	for _, e := range effects {
		switch e.(type) {
		case effect.BroadcastProposal, effect.BroadcastVote, effect.Decide:
			messages = append(messages, e)
		case effect.ScheduleTimeout, effect.CancelTimeout:
			timeouts = append(timeouts, e)
		case effect.RequestValue:
			requests = append(requests, e)
		}
	}
	ordered := make([]effect.Effect, 0, len(effects))
	ordered = append(ordered, messages...)
	ordered = append(ordered, timeouts...)
	ordered = append(ordered, requests...)
	return ordered
}
