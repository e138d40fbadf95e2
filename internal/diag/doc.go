// Package diag defines the canonical result model shared by checker workers
// and the orchestrator.
//
// # Purpose
//
//   - Provide one deterministic, serialisable record (Result) for findings that
//     come from two very different producers: the compiler backend
//     (diagnostics) and the style engine (rule violations).
//   - Convert tool-native records into that shape (NormalizeDiagnostics,
//     NormalizeViolations).
//   - Remove duplicates (Dedupe) without reordering first occurrences.
//
// # Data model
//
// Result carries:
//
//   - Kind – KindDiagnostic or KindStyle.
//   - Code – "TS<n>" for compiler diagnostics, the rule name for style findings.
//   - Severity – SevWarning or SevError.
//   - File, Line, Column – 1-based position; zero when unknown.
//
// Two results are duplicates iff Kind, Code, File, Line and Column match. The
// message is deliberately not part of the key: the same finding reported by
// two workers may carry slightly different wording.
//
// # Where dedup happens
//
// Dedupe runs twice per run: once inside every worker over its own shard, and
// once in the orchestrator after all shards are merged. Both passes are needed
// because exclusion rules are resolved per file and two shards can legitimately
// report the same finding.
//
// Package diag does no IO and no formatting; rendering lives in
// internal/diagfmt.
package diag
