package group

// CheckInvariants exposes the list consistency check to tests.
func (l *List) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkInvariants()
}

// CorruptIndex points id at the wrong position.
func (l *List) CorruptIndex(id string, pos int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[id] = pos
}
