// Package gemini implements the language-model capabilities of the
// generation package on top of Google's Gemini API.
//
// This package is an infrastructure adapter: the pipeline only sees the
// narrow generation interfaces, and everything Gemini-specific (prompt
// rendering, JSON response handling, safety blocks, API error codes) stays
// here.
//
// Key components:
//
//  1. Client:
//     - Owns the genai client, a shared request rate limiter and the
//     parsed prompt templates
//     - Retries transient API failures on generation calls
//
//  2. Capabilities:
//     - Embed (generation.Embedder)
//     - GenerateQuestion (generation.QuestionGenerator)
//     - CheckAnswerability (generation.AnswerabilityChecker), using its own
//     checker model
//     - AnalyzeDocument and ProposeDistribution (generation.PlanAdvisor)
//
// Errors are mapped to generation sentinels so generation.Classify can
// decide how the pipeline recovers.
package gemini
