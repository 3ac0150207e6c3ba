// Package websocket streams the message bus traffic a worker sees
// (broadcast, master, private and topic announcements) to WebSocket
// clients as JSON messages.
package websocket
