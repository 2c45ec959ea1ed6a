package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/storage/query"
	"github.com/xtxerr/sensorlog/internal/storage/types"
)

// indexRows is how many recent samples GET / lists per sensor.
const indexRows = 10

// GET /
//
// Lists the newest samples of every tracked sensor, keyed "sensor<id>".
func (a *API) handleIndex(r *http.Request) (any, error) {
	entities := a.svc.Entities()
	out := make(map[string][]query.Latest, len(entities))
	for _, e := range entities {
		rows, err := a.svc.Latest(r.Context(), e, indexRows)
		if err != nil {
			return nil, err
		}
		out["sensor"+strconv.FormatInt(e, 10)] = rows
	}
	return out, nil
}

// GET /api/last?sensor_id=1&n=1
func (a *API) handleLast(r *http.Request) (any, error) {
	entity, err := entityParam(r)
	if err != nil {
		return nil, err
	}

	n := 1
	if s := r.URL.Query().Get("n"); s != "" {
		if n, err = strconv.Atoi(strings.TrimSpace(s)); err != nil {
			return nil, errors.NewInvalidRequest("n", "not an integer")
		}
	}

	ctx := logging.ContextWithEntity(r.Context(), entity)
	return a.svc.Latest(ctx, entity, n)
}

// GET /api/series?sensor_id=1&range=1h | &duration=3600 [&bucket=60]
func (a *API) handleSeries(r *http.Request) (any, error) {
	entity, spec, err := a.rangeParams(r)
	if err != nil {
		return nil, err
	}
	ctx := logging.ContextWithEntity(r.Context(), entity)
	return a.svc.Series(ctx, entity, spec)
}

// GET /api/summary?sensor_id=1&range=1d | &duration=86400
func (a *API) handleSummary(r *http.Request) (any, error) {
	entity, spec, err := a.rangeParams(r)
	if err != nil {
		return nil, err
	}
	ctx := logging.ContextWithEntity(r.Context(), entity)
	return a.svc.Summary(ctx, entity, spec)
}

// GET /health
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.cfg.Health != nil {
		if err := a.cfg.Health(r.Context()); err != nil {
			log.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Parameters
// =============================================================================

// entityParam reads sensor_id, defaulting to 1.
func entityParam(r *http.Request) (types.EntityID, error) {
	s := r.URL.Query().Get("sensor_id")
	if s == "" {
		return 1, nil
	}
	return query.ParseEntity(s)
}

// entitiesParam reads sensor_id as a repeated or comma separated list.
// An empty result means the tracked default set.
func entitiesParam(r *http.Request) ([]types.EntityID, error) {
	var out []types.EntityID
	for _, v := range r.URL.Query()["sensor_id"] {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			id, err := query.ParseEntity(part)
			if err != nil {
				return nil, err
			}
			out = append(out, id)
		}
	}
	return out, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	s := strings.TrimSpace(r.URL.Query().Get(name))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.NewInvalidRequest(name, "not an integer")
	}
	if v <= 0 {
		return 0, errors.NewInvalidRequest(name, "must be positive")
	}
	return v, nil
}

func (a *API) rangeParams(r *http.Request) (types.EntityID, query.RangeSpec, error) {
	entity, err := entityParam(r)
	if err != nil {
		return 0, query.RangeSpec{}, err
	}
	duration, err := int64Param(r, "duration")
	if err != nil {
		return 0, query.RangeSpec{}, err
	}
	bucket, err := int64Param(r, "bucket")
	if err != nil {
		return 0, query.RangeSpec{}, err
	}

	tag := r.URL.Query().Get("range")
	if tag != "" && duration > 0 {
		return 0, query.RangeSpec{}, errors.NewInvalidRequest("range", "cannot be combined with duration")
	}

	spec, err := query.ResolveRange(tag, duration, bucket, a.svc.MinBucketSec())
	return entity, spec, err
}
