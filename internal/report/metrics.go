package report

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteMetrics writes the summary as a Prometheus textfile, for pickup by a
// node_exporter textfile collector.
func WriteMetrics(path string, s *Summary) error {
	reg := prometheus.NewRegistry()

	cases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pocharness",
		Name:      "cases",
		Help:      "Cases in the last run by verdict status.",
	}, []string{"status"})
	classes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pocharness",
		Name:      "bug_class_cases",
		Help:      "Cases in the last run by bug class and result.",
	}, []string{"bug_class", "result"})
	pass := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pocharness",
		Name:      "pass",
		Help:      "1 if the last run passed.",
	})
	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pocharness",
		Name:      "run_duration_seconds",
		Help:      "Wall time of the last run.",
	})
	malformed := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pocharness",
		Name:      "malformed_cases",
		Help:      "Case files excluded for bad metadata.",
	})
	reg.MustRegister(cases, classes, pass, duration, malformed)

	t := s.Totals
	cases.WithLabelValues("matched").Set(float64(t.Matched))
	cases.WithLabelValues("attested").Set(float64(t.Attested))
	cases.WithLabelValues("mismatch").Set(float64(t.Mismatched))
	cases.WithLabelValues("build-failed").Set(float64(t.BuildFailed))
	cases.WithLabelValues("inconclusive").Set(float64(t.Inconclusive))

	for _, g := range s.ByBugClass {
		classes.WithLabelValues(g.Name, "matched").Set(float64(g.Matched))
		classes.WithLabelValues(g.Name, "attested").Set(float64(g.Attested))
		classes.WithLabelValues(g.Name, "failed").Set(float64(g.Failed))
	}

	if s.Pass {
		pass.Set(1)
	}
	duration.Set(s.Duration.Seconds())
	malformed.Set(float64(t.Malformed))

	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
