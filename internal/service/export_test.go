package service

import "time"

func SetClock(s *Scheduler, now func() time.Time) {
	s.now = now
}
