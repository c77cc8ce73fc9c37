// Package topic matches dotted event topics against wildcard patterns.
//
// A topic is a non-empty list of segments joined by dots, for example
// "heartbeat" or "orders.eu.created". Patterns may use two wildcards: a
// "*" segment matches exactly one segment and a "**" segment matches zero
// or more.
//
// Examples:
//
//	orders.*           matches orders.created, not orders.eu.created
//	orders.**          matches orders, orders.created and orders.eu.created
//	*.created          matches orders.created and users.created
//	**                 matches everything
//
// A Filter holds a set of patterns. The bridge uses one to choose which
// local events are exported.
package topic
