package main

import (
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartJanitor runs periodic cleanup: abandoned waiting lobbies expire
// every minute, old analytics facts are pruned daily.
func StartJanitor(registry *Registry, db *DB, cfg Config) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			if n := registry.ExpireStaleWaiting(cfg.StaleMatchAge); n > 0 {
				log.Printf("janitor: expired %d stale waiting matches", n)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	if db != nil {
		_, err = sched.NewJob(
			gocron.DurationJob(24*time.Hour),
			gocron.NewTask(func() {
				n, err := db.PruneFacts(cfg.FactRetention)
				if err != nil {
					log.Printf("janitor: fact prune failed: %v", err)
				} else if n > 0 {
					log.Printf("janitor: pruned %d old facts", n)
				}
			}),
		)
		if err != nil {
			return nil, err
		}
	}

	sched.Start()
	return sched, nil
}
