package trace

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// StartHeartbeat emits a heartbeat every interval until the returned stop
// function is called, so a stuck run stays visible in the trace. It returns
// a no-op stop when tracing is off or interval is not positive.
func StartHeartbeat(t Tracer, interval time.Duration) (stop func()) {
	if t == nil || !t.Enabled() || interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for n := 1; ; n++ {
			select {
			case now := <-ticker.C:
				t.Emit(&Event{
					Time:   now,
					Seq:    nextSeq(),
					Kind:   KindHeartbeat,
					Scope:  ScopeOrchestrator,
					Name:   "heartbeat",
					Detail: fmt.Sprintf("#%d goroutines=%d", n, runtime.NumGoroutine()),
				})
			case <-done:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}
