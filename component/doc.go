// Package component defines the lifecycle interface shared by the parts of
// a meshkit binary and an ordered Registry that starts them in order and
// stops them in reverse.
package component
