// Package sandbox defines the contract between pysandbox and a remote
// code-execution service. A Client is one remote session: it is started
// once, invoked any number of times, and stopped when its owner is done.
//
// Backends live under pkg/tools/builtins/codeinterpreter. This package has
// no external dependencies so that adapters can be tested with fakes.
package sandbox
