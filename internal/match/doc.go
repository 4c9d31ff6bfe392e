// Package match resolves free-text names to canonical entity ids using a
// shared candidate-search pattern: exact lookup, bounded fuzzy lookup,
// model disambiguation when several candidates remain, and a race-safe
// conditional create where creation is defined for the entity type.
//
// Ambiguity never auto-creates: when the model declines to pick or its
// output cannot be parsed, the name stays unmatched. Token usage for every
// model call is accumulated and returned to the caller for cost
// accounting.
package match
