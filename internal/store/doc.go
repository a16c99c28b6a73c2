// Package store holds the latest poll result of every watched proxy for the
// status API.
package store
