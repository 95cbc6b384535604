// Package scheduler triggers named jobs on cron expressions or fixed
// intervals. A job never overlaps itself: a tick that fires while the previous
// invocation is still running is skipped.
package scheduler
