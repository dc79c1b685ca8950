package idle

import "github.com/NordCoder/Leadbook/internal/client/session"

// Attach starts a monitor whose logout tears s down, and which stops
// whenever s is torn down by anything else. Stopping the monitor removes
// its hook from s.
func Attach(s *session.Session, cfg Config) (*Monitor, error) {
	onLogout := cfg.OnLogout
	cfg.OnLogout = func() {
		s.Teardown()
		if onLogout != nil {
			onLogout()
		}
	}
	m, err := NewMonitor(cfg)
	if err != nil {
		return nil, err
	}
	m.setOnStop(s.OnTeardown(m.Stop))
	m.Start()
	return m, nil
}
