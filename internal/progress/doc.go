// Package progress keeps process owners informed while provider jobs run.
// Each watched process gets one poll loop that maps the provider job state
// to a coarse percentage and edits a single notification message in place.
// A loop that exhausts its tick budget reports the process as timed out.
package progress
