// Package llm wraps the chat-completion API used for frame classification,
// product recognition, entity disambiguation, transcript correction, and
// sentiment extraction.
//
// Every call is structured-prompt-in, parsed-JSON-out. Malformed model
// output is a handled failure path: DecodeJSON tolerates code fences and
// stray prose, and callers translate a decode failure into "no match" or
// "no classification" rather than a crash. Token usage is returned on every
// call so pipelines can account for model spend per job.
package llm
