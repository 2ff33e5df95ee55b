package influxdb

import (
	"maps"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Point layout for entity states.
const (
	TagEntityID = "entity_id"
	TagDomain   = "domain"
	FieldValue  = "value"
)

// WriteState queues one numeric entity state. The measurement is usually the
// entity's unit of measurement; extra fields are stored next to the value.
//
//	client.WriteState("°C", "sensor.living_temp", 21.5, nil, state.LastUpdated)
func (c *Client) WriteState(measurement, entityID string, value float64, extra map[string]any, ts time.Time) {
	domain, _, _ := strings.Cut(entityID, ".")
	fields := make(map[string]any, len(extra)+1)
	maps.Copy(fields, extra)
	fields[FieldValue] = value

	c.WritePointWithTime(measurement, map[string]string{
		TagEntityID: entityID,
		TagDomain:   domain,
	}, fields, ts)
}

// WritePointWithTime queues an arbitrary point. Points written after Close
// are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}

// Flush blocks until every queued point has been sent. It is a no-op after
// Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
