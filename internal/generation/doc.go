// Package generation defines the narrow language-model capabilities the
// pipeline consumes (embedding, question generation, answerability checks
// and plan advice), the errors their adapters return, and the shared
// failure classification and retry policy applied around them.
package generation
