// Package server hosts the Fiber HTTP service and its middleware chain.
// Every request outside the /-/ diagnostics prefix is handed to the injected
// ProxyHandler; lifecycle endpoints live in the routes subpackage and are
// attached to the same application. Keep exports narrow and accept explicit
// dependencies so tests can substitute fake handlers.
package server
