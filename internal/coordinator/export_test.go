package coordinator

// Starts returns how many loops have been started.
func (t *ResourceTicker) Starts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.starts
}
