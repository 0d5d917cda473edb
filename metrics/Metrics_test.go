package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	var m Mean
	assert.Equal(t, 0.0, m.Result())

	m.Update(1, 2)
	m.Update(6)
	assert.Equal(t, 3.0, m.Result())
	assert.Equal(t, 3, m.Count())

	m.Reset()
	assert.Equal(t, 0, m.Count())
}

func TestRowErrors(t *testing.T) {
	prediction := []float64{1, 2, 0, 0}
	target := []float64{0, 0, 0, 1}

	squared, err := SquaredErrors(prediction, target, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2.5, 0.5}, squared)

	absolute, err := AbsoluteErrors(prediction, target, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, 0.5}, absolute)

	_, err = SquaredErrors(prediction, target[:3], 2)
	assert.Error(t, err)
	_, err = SquaredErrors(prediction, target, 3)
	assert.Error(t, err)
}

func TestCollector(t *testing.T) {
	c := NewCollector("distill")
	c.Observe(3, map[string]float64{"mse_loss": 0.5, "mae": 0.25})
	c.Observe(4, map[string]float64{"mse_loss": 0.4})
	c.CheckpointSaved()

	assert.Equal(t, 4.0, testutil.ToFloat64(c.step))
	assert.Equal(t, 0.4, testutil.ToFloat64(c.scalars.WithLabelValues("mse_loss")))
	assert.Equal(t, 0.25, testutil.ToFloat64(c.scalars.WithLabelValues("mae")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.checkpoints))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "distill_step 4"))
}
