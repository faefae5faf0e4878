// Package api exposes a small HTTP surface for inspecting a running agent
// pair and injecting messages into an agent's inbox.
package api
