// Package forecast provides the forecasting counterparts of the load
// planner: a persistence model and an OLS trend model over sensor history.
// Both run behind the same job pipeline and failure taxonomy as scheduling.
package forecast
