// Package progress persists runs and their units of work.
//
// Every unit transition is written through before the scheduler acts on it,
// so a crash at any point leaves a resumable run: pending units are picked
// up as-is and in-flight units are reset to pending on resume.
package progress
