// Package scheduler registers cron, interval and one-shot jobs.
//
// Cron and interval triggers come from robfig/cron; one-shot jobs are
// runtime timers keyed by name, so registering a name again replaces the
// pending job. Jobs execute on a Runner (normally the app supervisor) with
// a per-job timeout; a scheduled job never overlaps itself.
package scheduler
