package services

import (
	"context"
	"sync"
	"time"

	"github.com/yeremiapane/restaurant-floor/utils"
)

// SessionSweeper periodically force-ends expired sessions. A failed pass is
// logged and simply retried on the next tick.
type SessionSweeper struct {
	Sessions *SessionManager
	StopChan chan struct{}
	Interval time.Duration

	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewSessionSweeper(sessions *SessionManager, interval time.Duration) *SessionSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &SessionSweeper{
		Sessions: sessions,
		StopChan: make(chan struct{}),
		Interval: interval,
	}
}

func (s *SessionSweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.StopChan:
				return
			}
		}
	}()
	utils.InfoLogger.Printf("Session sweeper started, interval %s", s.Interval)
}

// Stop halts the loop and waits for a running pass to finish.
func (s *SessionSweeper) Stop() {
	s.stopOnce.Do(func() { close(s.StopChan) })
	s.wg.Wait()
}

// Sweep runs one expiry pass.
func (s *SessionSweeper) Sweep(ctx context.Context) int {
	ended, err := s.Sessions.ExpireDue(ctx, s.Sessions.now())
	if err != nil {
		utils.ErrorLogger.Printf("Error sweeping expired sessions: %v", err)
	}
	if ended > 0 {
		utils.InfoLogger.Printf("Expired %d table sessions", ended)
	}
	return ended
}
