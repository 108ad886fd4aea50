package durablestream

// Forms returns the number of forms with a cached position.
func (j *Journal) Forms() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.positions)
}
