// Package api provides the HTTP REST API and WebSocket server for the
// NLE bridge.
//
// It exposes device snapshots, recorded state history, thermostat
// commands and bridge health over HTTP, and relays published state
// changes to WebSocket subscribers in real time. Commands submitted here
// run through the same validation and vendor write path as MQTT
// commands.
//
// Authentication is a static bearer token shared with Gray Logic Core;
// WebSocket clients pass it as a token query parameter instead, since
// browsers cannot set headers on WebSocket connections.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
