/**
 * @description
 * Cron-driven sweeper that expires transfers stuck in non-terminal states past
 * their expiry deadline. A crash between saga steps can leave a transfer in
 * PENDING or RESOLVING forever; the sweeper moves those records to EXPIRED so
 * clients are never left polling an abandoned id.
 *
 * @dependencies
 * - github.com/robfig/cron/v3: Job scheduling.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

const reaperJobTimeout = 30 * time.Second

// Reaper schedules the stale-transfer expiry job.
type Reaper struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewReaper creates the sweeper. The schedule uses standard cron syntax, e.g.
// "*/5 * * * *" for every five minutes.
func NewReaper(service *Service, schedule string) *Reaper {
	return &Reaper{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		service:  service,
		schedule: schedule,
	}
}

// Start registers the expiry job and starts the scheduler.
func (r *Reaper) Start() {
	if _, err := r.cron.AddFunc(r.schedule, r.expireStaleTransfers); err != nil {
		log.Printf("level=error component=reaper msg=\"failed to schedule expiry job\" schedule=%q err=%v", r.schedule, err)
		return
	}
	log.Printf("level=info component=reaper msg=\"scheduled stale transfer expiry job\" schedule=%q", r.schedule)
	r.cron.Start()
}

// Stop stops the scheduler and returns a context that completes when any
// running job has finished.
func (r *Reaper) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reaper) expireStaleTransfers() {
	ctx, cancel := context.WithTimeout(context.Background(), reaperJobTimeout)
	defer cancel()

	expired, err := r.service.repo.ExpireStaleTransfers(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("level=error component=reaper msg=\"stale transfer sweep failed\" err=%v", err)
		return
	}
	if expired > 0 {
		log.Printf("level=info component=reaper msg=\"expired stale transfers\" count=%d", expired)
	}
}
