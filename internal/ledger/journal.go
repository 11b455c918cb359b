package ledger

// journal records how to undo the mutations of one call.
type journal struct {
	parent *journal
	undo   []func()
	events []Event
}

func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
	j.events = nil
}

func (j *journal) absorb(child *journal) {
	j.undo = append(j.undo, child.undo...)
	j.events = append(j.events, child.events...)
}

func (l *Ledger) record(undo func()) {
	if l.tx != nil {
		l.tx.undo = append(l.tx.undo, undo)
	}
}

func setEntry[K comparable, V any](l *Ledger, m map[K]V, k K, v V) {
	prev, existed := m[k]
	l.record(func() {
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	m[k] = v
}

func deleteEntry[K comparable, V any](l *Ledger, m map[K]V, k K) {
	prev, existed := m[k]
	if !existed {
		return
	}
	l.record(func() { m[k] = prev })
	delete(m, k)
}

func (l *Ledger) setNextID(id uint64) {
	prev := l.nextID
	l.record(func() { l.nextID = prev })
	l.nextID = id
}

func (l *Ledger) setRoyalty(cfg RoyaltyConfig) {
	prev := l.royalty
	l.record(func() { l.royalty = prev })
	l.royalty = cfg
}
