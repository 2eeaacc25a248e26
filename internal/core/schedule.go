package core

import (
	"context"
)

// applySchedules reconciles the cron entries against the SCHEDULE keys
// of the current job specs. Called on startup and after every config
// reload, from the loop goroutine.
func (c *Core) applySchedules() {
	for _, id := range c.cronEntries {
		c.cron.Remove(id)
	}
	c.cronEntries = c.cronEntries[:0]

	for jobName, expr := range c.loader.Schedules() {
		name := jobName
		id, err := c.cron.AddFunc(expr, func() { c.enqueueScheduled(name) })
		if err != nil {
			c.logger.Warn("invalid SCHEDULE expression, job not scheduled",
				"job", name, "schedule", expr, "error", err)
			continue
		}
		c.cronEntries = append(c.cronEntries, id)
	}
}

// enqueueScheduled runs on a cron goroutine; it hands the submission to
// the loop goroutine and gives up silently if the loop has already
// drained.
func (c *Core) enqueueScheduled(jobName string) {
	cmd := func() {
		if _, err := c.dispatcher.Queue(context.Background(), jobName, nil, "scheduled", false, 0); err != nil {
			c.logger.Warn("scheduled queue failed", "job", jobName, "error", err)
		}
	}
	select {
	case c.commands <- cmd:
	case <-c.drained:
	}
}
