package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_sessions_issued_total",
		Help: "Refresh tokens issued at login.",
	})
	Rotations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_rotations_total",
		Help: "Rotation attempts by outcome.",
	}, []string{"outcome"})
	BreachLockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sessiond_breach_lockouts_total",
		Help: "Account-wide lockouts triggered by refresh-token reuse.",
	})
	LegacyMigrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessiond_legacy_migrations_total",
		Help: "Legacy token rows upgraded in place on read.",
	}, []string{"scheme"})
)
