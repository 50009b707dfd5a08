//go:build unix && !linux && !darwin

package asyncoro

// newPollerForKind is the per-platform half of backend selection for unix
// systems other than Linux and Darwin (the BSDs included, whose kqueue is
// not used): BackendAuto falls back to poll(2),
// matching spec §4.2's backend table ("preferred on systems that offer
// it", otherwise level-triggered poll).
func newPollerForKind(kind BackendKind) (poller, bool, error) {
	switch kind {
	case BackendAuto:
		p, err := newPollPoller()
		return p, true, err
	default:
		return nil, false, nil
	}
}
