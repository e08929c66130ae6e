package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("removed"))

	RecordRun("removed", 3, 2*time.Second)

	if got := testutil.ToFloat64(RunsTotal.WithLabelValues("removed")) - before; got != 1 {
		t.Errorf("expected runs_total{outcome=removed} to grow by 1, grew by %v", got)
	}
	if got := testutil.ToFloat64(Candidates); got != 3 {
		t.Errorf("expected candidates gauge 3, got %v", got)
	}
}

func TestRecordRemovals(t *testing.T) {
	tests := []struct {
		name      string
		submitted int
		failed    int
	}{
		{name: "mixed", submitted: 2, failed: 1},
		{name: "nothing", submitted: 0, failed: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subBefore := testutil.ToFloat64(RemovalsTotal.WithLabelValues("submitted"))
			failBefore := testutil.ToFloat64(RemovalsTotal.WithLabelValues("failed"))

			RecordRemovals(tt.submitted, tt.failed)

			if got := testutil.ToFloat64(RemovalsTotal.WithLabelValues("submitted")) - subBefore; got != float64(tt.submitted) {
				t.Errorf("submitted grew by %v, want %d", got, tt.submitted)
			}
			if got := testutil.ToFloat64(RemovalsTotal.WithLabelValues("failed")) - failBefore; got != float64(tt.failed) {
				t.Errorf("failed grew by %v, want %d", got, tt.failed)
			}
		})
	}
}
