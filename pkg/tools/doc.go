// Package tools defines the types exchanged between an agent-facing
// surface (MCP, HTTP) and the tool backends that pysandbox hosts.
//
// It also carries the allowed-tools filter applied before dispatch.
package tools
