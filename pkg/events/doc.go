// Package events provides an in-process broker for fleet state changes:
// worker admissions and evictions, binding churn, request timeouts.
package events
