// Package resilience implements a circuit breaker guarding the outbound
// collaborators: the repair completion service and bundle fetches.
package resilience
