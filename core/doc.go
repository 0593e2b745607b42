// Package core implements the process runtime contract.
//
// A process hosts a Registry of functions together with a private State
// Store and Mailbox. The Invoker loop polls a Transport for invocations,
// dispatches each one to its handler with a Context, and reports the
// handler's status and output back through the Transport.
//
// Calls between processes go through Context.Invoke. A call addressed to the
// local process re-enters dispatch on the caller's goroutine; every other
// call is forwarded over the Transport and waited on.
package core
