package battle

// PendingFor returns the invitation awaiting targetID.
func (t *Table) PendingFor(targetID int64) (Invitation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	inv, ok := t.pending[targetID]
	return inv, ok
}
