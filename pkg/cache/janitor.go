package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/bitechdev/StoreCache/pkg/logger"
)

// janitor runs sweep on a fixed interval until stopped.
type janitor struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func startJanitor(clock clockwork.Clock, interval time.Duration, name string, sweep func()) *janitor {
	j := &janitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	ticker := clock.NewTicker(interval)
	go func() {
		defer close(j.done)
		defer ticker.Stop()
		defer logger.CatchPanic("cache janitor " + name)

		for {
			select {
			case <-j.stop:
				return
			case <-ticker.Chan():
				sweep()
			}
		}
	}()

	return j
}

// Stop ends the sweep loop and waits for it. Safe to call more than once.
func (j *janitor) Stop() {
	if j == nil {
		return
	}
	j.once.Do(func() {
		close(j.stop)
	})
	<-j.done
}
