package session

// View returns the current published state.
func (m *Machine) View() View {
	m.mu.Lock()
	s := m.session
	m.mu.Unlock()

	tx := m.tracker.Snapshot()
	v := View{
		Session: s,
		Error:   m.errors.Current(),
		Pending: tx.Pending,
		History: tx.History,
	}

	m.hooksMu.Lock()
	source := m.countSource
	m.hooksMu.Unlock()
	if source != nil {
		v.Count, v.Loading = source()
	}
	return v
}

// Subscribe registers a view subscriber. The current view is delivered first.
// Callers must Close the subscription; at most Config.MaxSubscribers may be open.
func (m *Machine) Subscribe() (*Subscription, error) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	v := m.View()
	v.Version = m.version
	return m.hub.add(v)
}

// Subscribers returns the number of open subscriptions.
func (m *Machine) Subscribers() int {
	return m.hub.count()
}

// Touch republishes the current view, for state owned outside the machine
// such as the counter value.
func (m *Machine) Touch() {
	m.notify()
}

func (m *Machine) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.version++
	v := m.View()
	v.Version = m.version
	m.hub.publish(v)
}
