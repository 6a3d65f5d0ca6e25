// Package reliability provides retry policies for transport-level
// operations such as dialing a broker.
//
// The messaging core never retries anything itself; callers and transports
// that want retry behaviour compose it from this package.
package reliability
