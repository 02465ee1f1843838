package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	m := New()

	m.IncRequest("articles")
	m.IncRequest("articles")
	m.IncAttachment("saved")
	m.IncAttachment("failed")
	m.AddVideos(3)
	m.AddVideos(0)
	m.IncCollision()
	m.IncExported()
	m.IncError("not_found")
	m.ObserveDuration(20 * time.Millisecond)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("articles")); got != 2 {
		t.Fatalf("requests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AttachmentsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed attachments = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.VideosTotal); got != 3 {
		t.Fatalf("videos = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.PathCollisionsTotal); got != 1 {
		t.Fatalf("collisions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ArticlesExportedTotal); got != 1 {
		t.Fatalf("exported = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("not_found")); got != 1 {
		t.Fatalf("errors = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncRequest("categories")
	m.ObserveDuration(time.Second)
	m.IncExported()
	m.IncAttachment("saved")
	m.AddVideos(1)
	m.IncCollision()
	m.IncError("other")
}
