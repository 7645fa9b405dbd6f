// Package api exposes the control surface of the simulation daemon: agent
// creation, simulation start/stop, manual rounds, statistics, the export
// summary, the live websocket feed and Prometheus metrics.
package api
