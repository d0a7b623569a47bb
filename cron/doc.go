// Package cron runs workflow definitions on recurring schedules.
//
// An [Entry] pairs a definition with a cron expression. Standard 5-field
// expressions ("0 9 * * 1-5") and descriptors ("@hourly", "@every 30s")
// are accepted.
//
// The [Scheduler] checks entries on every tick and starts a run for each
// entry whose NextRunAt has passed. NextRunAt is advanced before the run
// starts, so a slow run never makes the scheduler fire the same slot twice.
// An entry whose previous run is still in flight is skipped for that slot:
// runs of one entry never overlap.
//
//	sched := cron.NewScheduler(eng.Execute, logger)
//	if err := sched.Add("nightly", "@daily", def); err != nil {
//	    return err
//	}
//	sched.Start(ctx)
//	defer sched.Stop(ctx)
package cron
