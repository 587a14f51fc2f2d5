package rabbit

import (
	"github.com/cockroachdb/errors"
)

// NotificationQueues maps the durable queues the mailer reads from to the
// routing keys bound to them.
var NotificationQueues = map[string][]string{
	"notifications.tickets":   {"tickets.issued"},
	"notifications.attendees": {"attendee.new"},
}

// BindQueues declares each durable queue and binds it to the events
// exchange, so messages published before the mailer connects are retained.
func (p *Publisher) BindQueues(queues map[string][]string) error {
	for name, keys := range queues {
		if _, err := p.ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return errors.Wrapf(err, "declare queue %s", name)
		}
		for _, key := range keys {
			if err := p.ch.QueueBind(name, key, p.exchange, false, nil); err != nil {
				return errors.Wrapf(err, "bind queue %s to %s", name, key)
			}
		}
	}
	return nil
}
