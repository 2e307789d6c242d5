package dispatcher

// RetryBudget tracks whether a session-expiry error may still be recovered from by logging in
// again. The zero value has the retry available.
type RetryBudget struct {
	spent bool
}

// Available reports whether the retry has not been used.
func (b RetryBudget) Available() bool {
	return !b.spent
}

// Take consumes the retry. It returns false if the retry was already used.
func (b *RetryBudget) Take() bool {
	if b.spent {
		return false
	}
	b.spent = true
	return true
}

// Reset makes the retry available again.
func (b *RetryBudget) Reset() {
	b.spent = false
}
