// Package agent is the dispatch loop of agentcli.
//
// An Agent serves a single request read from standard input. The request is
// either a JSON object
//
//	{"message": "...", "tools": [{"name": "read", "params": {"filePath": "a.txt"}}]}
//
// or plain text, which becomes the message. Requested tools run in order
// through the tools registry. A tool that fails is reported in the output and
// never aborts the request.
//
// # Output formats
//
// In the simple format (the default) Run writes one JSON object:
//
//	{"response": "Hello! You said: \"hi\"", "model": "...", "timestamp": 1700000000000,
//	 "toolResults": [{"tool": "read", "result": {"content": "..."}}]}
//
// toolResults is omitted when no tools were requested; a failed call appears
// as {"tool": "...", "error": "..."}.
//
// In the stream format Run writes one "tool_use" event per call as soon as it
// completes, followed by one "text" event carrying the response. See package
// event for the envelope.
//
// # Collaborators
//
// Response text comes from an llm.Generator. Plugin hooks
// (plugin.EventToolBefore, plugin.EventToolAfter) fire around every call,
// and event sinks such as the audit store observe every tool event. All of
// them default to no-op implementations.
package agent
