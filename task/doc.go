// Package task defines the task model, its lifecycle state machine, the
// Store persistence contract with compare-and-set transitions, and the
// handler registry that maps task types to execution functions.
package task
