package bots

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var treatedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_pages_treated",
	Help: "Number of candidate pages processed, by bot.",
}, []string{"bot"})

var skippedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_pages_skipped",
	Help: "Number of candidate pages skipped untreated, by bot.",
}, []string{"bot"})

var savedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_edits_saved",
	Help: "Number of edits saved, by bot.",
}, []string{"bot"})

var issueCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "nfcbot_issues_logged",
	Help: "Number of issues recorded for the run log, by bot.",
}, []string{"bot"})
