// Package textutil provides token fingerprints and filename sanitization.
//
// Fingerprints are term-frequency vectors compared by cosine similarity.
// They back the fuzzy pairing of free-text product names against catalog
// rows and the ranking of disambiguation candidates. Tokenization
// lowercases, splits on non-alphanumeric runs, and drops tokens shorter
// than 3 characters.
package textutil
