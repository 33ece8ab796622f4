// Package translate implements the tiered translation provider chain:
// a primary HTTP provider (DeepL), an OpenAI-compatible LLM fallback, and a
// deterministic offline dictionary. The chain owns retry, result-quality
// acceptance, and the silence-over-noise suppression policy.
package translate
