// Package waitnotify implements durable callbacks.
//
// A caller registers a wait with WaitForAllOn: a resume action name, a JSON
// payload and one or more correlation ids. Notify records a response for a
// correlation id. Once every correlation id of a wait has a response, the
// poller claims the wait and invokes the resume handler registered for its
// action with the payload and responses.
//
// Nothing is held in memory between registration and resumption: the payload
// must carry everything the handler needs, so a wait survives a restart.
//
// DelayEventHelper turns a duration into a correlation id that is notified
// once the wall clock passes its fire time.
package waitnotify
