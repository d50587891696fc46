package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/service"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := New("test")

	m.RefreshCompleted(20*time.Millisecond, nil)
	m.RefreshCompleted(time.Second, errors.New("core down"))
	m.SelectionCompleted("select", true)
	m.SelectionCompleted("pin", false)
	m.GroupsPublished(4)
	m.StateChanged(service.StateRunning)
	m.TrafficObserved(service.TrafficSnapshot{
		Now:   clash.Traffic{Up: 100, Down: 200},
		Total: clash.TrafficTotal{Up: 1000, Down: 2000, Connections: 3},
	})
	m.ProcessObserved(64<<20, 1.5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshTotal.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.selections.WithLabelValues("pin", "failure")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.publishedGroups))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.serviceState.WithLabelValues("running")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.serviceState.WithLabelValues("idle")))
	assert.Equal(t, 200.0, testutil.ToFloat64(m.trafficRate.WithLabelValues("down")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.processCPU))
}

func TestHandlerExposesNamespace(t *testing.T) {
	m := New("test")
	m.GroupsPublished(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), "test_proxygroup_published_groups 2")
	assert.Contains(t, string(body), `test_service_state{state="idle"} 1`)
}

func TestSeparateInstancesDoNotConflict(t *testing.T) {
	assert.NotPanics(t, func() {
		New("dup")
		New("dup")
	})
}
