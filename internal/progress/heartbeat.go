package progress

import (
	"context"
	"runtime"
	"time"
)

// SystemStatus samples the process for a heartbeat.
func SystemStatus(uptime time.Duration) Heartbeat {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Heartbeat{
		Goroutines:    runtime.NumGoroutine(),
		HeapBytes:     ms.HeapAlloc,
		UptimeSeconds: uptime.Seconds(),
	}
}

// RunHeartbeat emits a heartbeat every interval until ctx ends.
func RunHeartbeat(ctx context.Context, em Emitter, interval time.Duration, now func() time.Time, uptime func() time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			em.Emit(New(KindHeartbeat, now(), "", SystemStatus(uptime())))
		}
	}
}
