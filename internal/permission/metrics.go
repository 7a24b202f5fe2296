package permission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var permChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mathilda_permission_checks_total",
	Help: "Uncached permission check verdicts by result.",
}, []string{"result"})
