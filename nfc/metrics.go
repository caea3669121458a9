package nfc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var classifyCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_file_classifications",
	Help: "Number of pages classified, by result.",
}, []string{"result"})

var violationCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_violations_found",
	Help: "Number of policy violations detected, by criterion.",
}, []string{"criterion"})
