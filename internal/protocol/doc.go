// Package protocol defines the JSON signaling messages exchanged with
// browsers and edge-gateways, and the websocket close codes used when the
// relay drops a connection.
package protocol
