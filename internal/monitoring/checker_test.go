package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodekking/pakketpunten/internal/config"
	"github.com/geodekking/pakketpunten/internal/model"
	"github.com/geodekking/pakketpunten/internal/store"
)

func TestChecker_Check_DropPostsWebhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	st := newStore(t)
	finishedRun(t, st, store.RunOutcome{
		Status:        model.RunStatusComplete,
		CarrierTotals: map[model.Carrier]int{model.CarrierDHL: 100, model.CarrierDPD: 50},
	})
	cur := finishedRun(t, st, store.RunOutcome{
		Status:        model.RunStatusComplete,
		CarrierTotals: map[model.Carrier]int{model.CarrierDHL: 50, model.CarrierDPD: 50},
	})

	cfg := config.MonitoringConfig{DropThreshold: 0.2, WebhookURL: ts.URL}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg))

	alerts := checker.Check(context.Background(), cur)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCarrierDrop, alerts[0].Type)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_CollectFailureIsQuiet(t *testing.T) {
	checker := NewChecker(NewCollector(newStore(t)), NewAlerter(config.MonitoringConfig{DropThreshold: 0.2}))
	assert.Nil(t, checker.Check(context.Background(), "missing"))
}
