package positioning

import (
	"errors"
	"log/slog"
	"math"
	"sort"

	"hagw/pixie-gateway/internal/model"
)

// Engine calibrates raw appliance status against two fixed reference tags.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	refs       [2]string
	dimensions model.Dimensions
	logger     *slog.Logger
}

// Result is the outcome of a calibration run. Faults lists every tag or
// reference point whose coordinates were omitted.
type Result struct {
	Report *model.LocationReport
	Faults []*Fault
}

// NewEngine constructs an engine for the given ordered reference tag ids.
func NewEngine(refs [2]string, dimensions model.Dimensions, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{refs: refs, dimensions: dimensions, logger: logger}
}

// References returns the configured reference tag ids.
func (e *Engine) References() [2]string {
	return e.refs
}

// ReferencePoints derives the reference point entries from raw. References
// that are missing or lack a cross-distance are reported as faults and left
// out of the returned map.
func (e *Engine) ReferencePoints(raw *model.RawStatus) (map[string]model.ReferencePoint, []*Fault) {
	prefs := make(map[string]model.ReferencePoint, len(e.refs))
	var faults []*Fault

	for i, id := range e.refs {
		reading, ok := raw.PixiePoints[id]
		if !ok {
			faults = append(faults, integrityFault(id, "reference tag missing from appliance status"))
			continue
		}

		pref := model.ReferencePoint{Ref: reading}
		if i < len(e.refs)-1 {
			next := e.refs[i+1]
			dist, ok := lookupRange(reading, next)
			if !ok {
				faults = append(faults, integrityFault(id, "no valid range to reference %s", next))
				continue
			}
			pref.DistN = dist
		}
		if i > 0 {
			prev := e.refs[i-1]
			dist, ok := lookupRange(reading, prev)
			if !ok {
				faults = append(faults, integrityFault(id, "no valid range to reference %s", prev))
				continue
			}
			pref.DistP = dist
		}
		prefs[id] = pref
	}

	return prefs, faults
}

// ComputeLocations converts raw ranging data into a LocationReport. A nil raw
// yields ErrUnavailable. Per-tag failures never abort the report.
func (e *Engine) ComputeLocations(raw *model.RawStatus) (Result, error) {
	if raw == nil {
		return Result{}, ErrUnavailable
	}

	prefs, faults := e.ReferencePoints(raw)
	for _, f := range faults {
		e.logger.Error("reference point unusable", "tag", f.Tag, "error", f)
	}

	baseline, baselineOK := prefs[e.refs[0]]
	if _, ok := prefs[e.refs[1]]; !ok {
		baselineOK = false
	}

	ids := make([]string, 0, len(raw.PixiePoints))
	for id := range raw.PixiePoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	points := make(map[string]model.LocatedPoint, len(ids))
	for _, id := range ids {
		reading := raw.PixiePoints[id]
		if id == e.refs[0] || id == e.refs[1] {
			continue
		}

		point := model.LocatedPoint{
			Status:   reading.Status,
			TagName:  reading.TagName,
			TagColor: reading.TagColor,
		}

		if reading.Status == model.StatusConnected && baselineOK {
			coords, fault := e.locate(id, reading, baseline.DistN)
			if fault != nil {
				faults = append(faults, fault)
			} else {
				point.Coordinates = coords
			}
		}

		points[id] = point
	}

	return Result{
		Report: &model.LocationReport{
			Username:    raw.Username,
			PixiePoints: points,
			Dimensions:  e.dimensions,
		},
		Faults: faults,
	}, nil
}

func (e *Engine) locate(id string, reading model.TagReading, d float64) (*model.Coordinates, *Fault) {
	dr1, ok1 := lookupRange(reading, e.refs[0])
	dr2, ok2 := lookupRange(reading, e.refs[1])
	if !ok1 || !ok2 {
		fault := integrityFault(id, "no valid range to both references")
		e.logger.Error("tag range incomplete", "tag", id, "error", fault)
		return nil, fault
	}

	e.logger.Debug("calculating coordinates", "tag", id, "dr1", dr1, "dr2", dr2, "d", d)

	x, y, err := CalculateCoordinates(dr1, dr2, d)
	if err != nil {
		fault := &Fault{Kind: ErrGeometry, Tag: id, Detail: err.Error()}
		var gf *Fault
		if errors.As(err, &gf) {
			fault.Detail = gf.Detail
		}
		e.logger.Warn("coordinates omitted", "tag", id, "error", fault)
		return nil, fault
	}

	e.logger.Debug("calculated coordinates", "tag", id, "x", x, "y", y)
	return &model.Coordinates{X: x, Y: y}, nil
}

func lookupRange(reading model.TagReading, peer string) (float64, bool) {
	dist, ok := reading.Range[peer]
	if !ok || dist < 0 || math.IsNaN(dist) || math.IsInf(dist, 0) {
		return 0, false
	}
	return dist, true
}
