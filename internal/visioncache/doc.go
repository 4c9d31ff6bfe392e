// Package visioncache persists recognition results keyed by a cluster
// representative's perceptual hash. Recurring shots of the same product
// across videos then skip the expensive recognition call entirely.
package visioncache
