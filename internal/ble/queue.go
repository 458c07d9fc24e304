package ble

import (
	"github.com/chaz8081/ecotherm/internal/thermostat"
)

// commandQueue holds validated, unsent write requests. It is bounded and
// coalescing: a request for a kind that is already queued replaces the
// queued value in place, keeping its position. Callers hold the session
// mutex.
type commandQueue struct {
	items []thermostat.Command
	size  int
}

func newCommandQueue(size int) *commandQueue {
	return &commandQueue{size: size}
}

// push appends cmd or coalesces it. It returns ErrQueueFull when a new kind
// does not fit.
func (q *commandQueue) push(cmd thermostat.Command) (coalesced bool, err error) {
	for i := range q.items {
		if q.items[i].Kind == cmd.Kind {
			q.items[i] = cmd
			return true, nil
		}
	}
	if len(q.items) >= q.size {
		return false, thermostat.ErrQueueFull
	}
	q.items = append(q.items, cmd)
	return false, nil
}

// requeue puts back a command whose write failed on the link. A newer
// request of the same kind wins.
func (q *commandQueue) requeue(cmd thermostat.Command) {
	for _, c := range q.items {
		if c.Kind == cmd.Kind {
			return
		}
	}
	q.items = append([]thermostat.Command{cmd}, q.items...)
}

func (q *commandQueue) pop() (thermostat.Command, bool) {
	if len(q.items) == 0 {
		return thermostat.Command{}, false
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd, true
}

func (q *commandQueue) len() int {
	return len(q.items)
}
