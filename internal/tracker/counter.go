package tracker

// Counter counts the open connections to one domain. When the count first
// rises from zero a hold begins; the connected highlight is not cleared
// until both the hold has elapsed and the count is back at zero.
type Counter struct {
	count   int
	holding bool
}

func (c *Counter) Count() int { return c.count }
func (c *Counter) Holding() bool { return c.holding }

// Up adds a connection. It reports whether the caller must start the hold
// timer.
func (c *Counter) Up() (startHold bool) {
	c.count++
	if c.count == 1 && !c.holding {
		c.holding = true
		return true
	}
	return false
}

// Down removes a connection. zero reports that the highlight should be
// cleared now.
func (c *Counter) Down() (zero bool, err error) {
	if c.count <= 0 {
		return false, ErrCountNegative
	}
	c.count--
	return c.count == 0 && !c.holding, nil
}

// HoldElapsed ends the hold. zero reports that the highlight should be
// cleared now.
func (c *Counter) HoldElapsed() (zero bool) {
	c.holding = false
	return c.count == 0
}
