// SPDX-License-Identifier: MIT

package stream

import "time"

// checkExitOnNoClients implements §4.4 "Exit-on-no-clients": if
// ExitOnNoClients > 0 and no sink has had a client for that long, fire
// OnExitOnNoClients and restart the timer, so it fires again only after
// another full ExitOnNoClients period without clients.
func (l *Loop) checkExitOnNoClients() {
	if l.cfg.ExitOnNoClients <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.HasAnyClients() {
		l.noClientsSince = time.Time{}
		return
	}
	if l.noClientsSince.IsZero() {
		l.noClientsSince = time.Now()
		return
	}
	if time.Since(l.noClientsSince) >= l.cfg.ExitOnNoClients {
		l.noClientsSince = time.Time{} // idempotent on re-entry
		if l.OnExitOnNoClients != nil {
			l.OnExitOnNoClients()
		}
	}
}
