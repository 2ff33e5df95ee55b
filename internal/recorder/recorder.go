// Package recorder writes entity state history to a time-series store.
//
// Every state_changed whose new state reads as a number becomes one point:
// the measurement is the unit_of_measurement attribute (the entity id when
// there is none), tagged with entity_id and domain, with the number in the
// "value" field. Binary states such as on/off and open/closed are recorded
// as 1 and 0. Other attributes ride along as extra fields.
package recorder

import (
	"strconv"
	"time"

	"github.com/openpeerpower/core/internal/core"
	"github.com/openpeerpower/core/internal/infrastructure/influxdb"
	"github.com/openpeerpower/core/internal/infrastructure/logging"
)

// attrUnit names the attribute used as measurement.
const attrUnit = "unit_of_measurement"

// Writer stores one point. *influxdb.Client implements it.
type Writer interface {
	WriteState(measurement, entityID string, value float64, extra map[string]any, ts time.Time)
}

// binaryStates maps on/off style states to numbers.
var binaryStates = map[string]float64{
	"on":            1,
	"open":          1,
	"home":          1,
	"locked":        1,
	"above_horizon": 1,
	"off":           0,
	"closed":        0,
	"not_home":      0,
	"unlocked":      0,
	"below_horizon": 0,
}

// Recorder follows state_changed and hands numeric states to a Writer.
type Recorder struct {
	hub      *core.Hub
	writer   Writer
	logger   *logging.Logger
	unlisten func()
}

// New creates a recorder. Nothing is written until Start.
func New(hub *core.Hub, writer Writer, logger *logging.Logger) *Recorder {
	return &Recorder{
		hub:    hub,
		writer: writer,
		logger: logger.Component("recorder"),
	}
}

// Start subscribes to state changes.
func (r *Recorder) Start() {
	r.unlisten = r.hub.Bus.Listen(core.EventStateChanged, r.handleStateChanged)
	r.logger.Info("recorder started")
}

// Stop unsubscribes. Buffered points are flushed by the writer's Close.
func (r *Recorder) Stop() {
	if r.unlisten != nil {
		r.unlisten()
		r.unlisten = nil
	}
}

func (r *Recorder) handleStateChanged(e core.Event) {
	entityID, _, st := core.ChangedStates(e)
	if st == nil {
		return
	}
	value, ok := StateAsNumber(st.State)
	if !ok {
		r.logger.Debug("state not recorded, not numeric", "entity_id", entityID, "state", st.State)
		return
	}

	measurement := entityID
	if unit, ok := st.Attributes[attrUnit].(string); ok && unit != "" {
		measurement = unit
	}
	r.writer.WriteState(measurement, entityID, value, extraFields(st.Attributes), st.LastUpdated)
}

// StateAsNumber converts a state value to the number recorded for it.
func StateAsNumber(state string) (float64, bool) {
	if v, ok := binaryStates[state]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(state, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// extraFields keeps the scalar attributes. Strings get a "_str" suffix so a
// field never changes type between points.
func extraFields(attrs map[string]any) map[string]any {
	fields := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if k == attrUnit || k == influxdb.FieldValue {
			continue
		}
		switch v := v.(type) {
		case string:
			fields[k+"_str"] = v
		case bool:
			fields[k] = v
		case int:
			fields[k] = float64(v)
		case int64:
			fields[k] = float64(v)
		case float64:
			fields[k] = v
		}
	}
	return fields
}
