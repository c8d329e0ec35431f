package stats

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsUpdater(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(MetricControlActions)
	su.Run()
	defer su.Stop()

	su.Incr(MetricControlActions)

	assert.Eventually(t, func() bool {
		return su.vars.Get(MetricControlActions).String() == "1"
	}, 1e9, 1e6, "expected metric to be incremented")
}
