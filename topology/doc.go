// Package topology is the exchange and queue registry of a virtual host.
//
// This package includes:
//   - VirtualHost: the exchange and queue namespaces with declare, create and
//     bind operations
//   - Exchange: a named exchange of a fixed type and its bindings
//   - Queue: a named queue whose Variant is chosen once from its declare
//     arguments
//   - dead-letter provisioning: a fanout exchange and durable queue derived
//     from the queue name, created on demand and shared between queues whose
//     derived names collide
//
// Durable topology is handed to a Store as it is created. Two mutexes guard
// the namespaces and are always acquired queues first, then exchanges.
package topology
