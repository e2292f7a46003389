package worker

import (
	"context"
	"time"
)

// heartbeatLoop refreshes the status hash on a fixed cadence. Errors
// are logged and the loop keeps going; a worker that cannot reach the
// CoordStore simply ages out of snapshots until it can again.
func (s *Service) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w := s.snapshot()
			if err := s.coord.UpdateWorkerStatus(ctx, &w, registrationTTL); err != nil {
				s.logger.WithError(err).Error("heartbeat failed")
			}
		}
	}
}
