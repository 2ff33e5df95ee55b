// Package influxdb writes state history to InfluxDB 2.x through the
// official influxdb-client-go library.
//
// Writes go through the library's batching write API and never block the
// caller; failed batches reach the SetOnError callback instead. The
// recorder component is the only writer. Connect and HealthCheck return
// their errors directly.
package influxdb
