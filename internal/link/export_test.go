package link

import "time"

func SetResolverClock(r *Resolver, now func() time.Time) { r.now = now }

func SetServiceClock(s *Service, now func() time.Time) { s.now = now }

func SetTrackerClock(t *Tracker, now func() time.Time) { t.now = now }

func SetGeneratorSalt(g *Generator, salt func() string) { g.salt = salt }
