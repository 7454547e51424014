package core

// AssertHosted fails with NotDelegated when the frame executes as the
// engine's own deployed identity rather than inside a host.
func AssertHosted(frame Frame, engine Address) error {
	if frame.Self == engine {
		return ErrNotDelegated()
	}
	return nil
}
