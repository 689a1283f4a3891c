package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// The stale-version tracker is pruned once it exceeds seenTrackerLimit:
// entries idle for longer than seenTrackerIdle are dropped. A pruned task
// only loses duplicate suppression until its next event; consumers still
// guard on the version tag themselves.
const (
	seenTrackerLimit = 10000
	seenTrackerIdle  = 10 * time.Minute
)

type seenVersion struct {
	version int64
	touched time.Time
}

func pruneSeen(seen map[string]seenVersion, cutoff time.Time) {
	for id, sv := range seen {
		if sv.touched.Before(cutoff) {
			delete(seen, id)
		}
	}
}

// SubscribeUpdates consumes committed aggregate events from the Redis pub/sub
// channel and rebroadcasts them to local subscribers of the task and project
// channels. Events that arrive out of order for a task are dropped using the
// version tag, so a subscriber never sees version N after N+1.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, broker *Broker) {
	lastSeen := make(map[string]seenVersion)
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Errorf("unable to parse update: %v", err)
					continue
				}
				now := time.Now()
				if last, ok := lastSeen[ev.TaskID]; ok && ev.Version <= last.version {
					logger.WithFields(log.Fields{"task": ev.TaskID, "version": ev.Version, "current": last.version}).Debug("dropping stale event")
					continue
				}
				lastSeen[ev.TaskID] = seenVersion{version: ev.Version, touched: now}
				if len(lastSeen) > seenTrackerLimit {
					pruneSeen(lastSeen, now.Add(-seenTrackerIdle))
				}
				data, err := json.Marshal(ev)
				if err != nil {
					logger.Errorf("marshal event: %v", err)
					continue
				}
				broker.Broadcast(TaskChannel(ev.TaskID), data)
				broker.Broadcast(ProjectChannel(ev.ProjectID), data)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
