// Package storage defines the execution history store and the helpers
// shared by its implementations: sentinel errors and tenant scoping.
//
// Implementations live in the memory and postgres subpackages.
package storage
