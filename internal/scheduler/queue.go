package scheduler

import (
	"strings"
	"time"

	"bumpbot/internal/config"
)

// entry is one account's slot in the due queue.
type entry struct {
	acct  config.Account
	next  time.Time
	order int
	index int

	cd  Cooldown
	raw string
}

// cooldown resolves the account cooldown; an unset one follows the current loop delay.
func (e *entry) cooldown(loopDelay time.Duration) Cooldown {
	if strings.TrimSpace(e.raw) == "" {
		return Cooldown{Every: loopDelay}
	}
	return e.cd
}

// dueQueue is a min-heap on next run time, ties broken by config order.
type dueQueue []*entry

func (q dueQueue) Len() int { return len(q) }

func (q dueQueue) Less(i, j int) bool {
	if q[i].next.Equal(q[j].next) {
		return q[i].order < q[j].order
	}
	return q[i].next.Before(q[j].next)
}

func (q dueQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *dueQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *dueQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q dueQueue) peek() *entry { return q[0] }
