// Package metrics exposes the merge queue's state as Prometheus metrics.
// A custom prometheus.Collector pulls live values from the controller
// registry at scrape time rather than pushing updates eagerly, so the
// exported series can never drift from what the queue actually holds.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/state"
)

// RepoLister is the subset of controller.Registry the collector needs.
type RepoLister interface {
	List() []string
	Lookup(fullName string) (*controller.Controller, bool)
}

var (
	queueDepthDesc = prometheus.NewDesc(
		"bors_mq_queue_depth",
		"Number of pull requests currently Queued, per repo.",
		[]string{"repo"}, nil,
	)
	testingDesc = prometheus.NewDesc(
		"bors_mq_testing",
		"1 if a pull request is currently Testing for the repo, else 0.",
		[]string{"repo"}, nil,
	)
	managedPRsDesc = prometheus.NewDesc(
		"bors_mq_managed_pull_requests",
		"Total pull requests tracked in the repo's store, any status.",
		[]string{"repo"}, nil,
	)
)

// Collector implements prometheus.Collector over a live Registry.
type Collector struct {
	repos RepoLister
}

// NewCollector builds a Collector that reports on repos's current state
// at every scrape.
func NewCollector(repos RepoLister) *Collector {
	return &Collector{repos: repos}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- queueDepthDesc
	ch <- testingDesc
	ch <- managedPRsDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, repo := range c.repos.List() {
		ctrl, ok := c.repos.Lookup(repo)
		if !ok {
			continue
		}

		snapshot := ctrl.Store().Snapshot()

		var queued float64

		testing := 0.0

		for _, pr := range snapshot {
			if pr.Status.IsQueued() {
				queued++
			}

			if pr.Status.Kind == state.Testing {
				testing = 1
			}
		}

		ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, queued, repo)
		ch <- prometheus.MustNewConstMetric(testingDesc, prometheus.GaugeValue, testing, repo)
		ch <- prometheus.MustNewConstMetric(managedPRsDesc, prometheus.GaugeValue, float64(len(snapshot)), repo)
	}
}
