// Package timeseries defines the fixed-resolution series and window types
// shared by planners, forecast models and stores. Windows are half-open and
// slot-aligned; NaN marks unknown values.
package timeseries
