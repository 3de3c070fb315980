// Package codeinterpreter exposes "run Python code in a remote sandbox" as
// an agent tool.
//
// Tools owns one lazily started remote session per instance and forwards
// code to it with the executeCode operation. Provider wraps Tools as a
// registry.FunctionProvider so the tool can be served over MCP and the
// server's HTTP routes.
package codeinterpreter
