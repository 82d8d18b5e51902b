// Package server implements the WebSocket surface of the chat relay.
//
// A Hub owns the connection Registry and fans message lifecycle events out
// to every registered Client. Each Client is one chat session: it resolves
// the identity presented at connect time, registers with the hub once
// resolution finishes, and turns inbound frames into store reads and
// admissions. The implementation is organized into specialized files for
// configuration, hub management, clients, routing, and HTTP handlers.
package server
