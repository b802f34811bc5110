package flakeid

// simulateCrash stops background workers without releasing the record (for testing).
// The generator keeps minting, like a process that froze rather than exited.
func (n *Node) simulateCrash() {
	n.mu.RLock()
	var coordinator = n.coordinator
	n.mu.RUnlock()

	if coordinator != nil {
		coordinator.halt()
		coordinator.wg.Wait()
	}
}
