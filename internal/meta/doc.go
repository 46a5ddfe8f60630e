// Package meta parses the metadata block embedded at the top of every
// reproduction case.
//
// # Case Format
//
// A case is a single Rust source file named NNNN-crate.rs. It starts with an
// inner doc comment holding a fenced TOML document:
//
//	/*!
//	```rudra-poc
//	[target]
//	crate = "stackvector"
//	version = "1.0.8"
//
//	[test]
//	cargo_toolchain = "nightly"
//
//	[report]
//	issue_url = "https://github.com/Alexhuszagh/rust-stackvector/issues/2"
//	issue_date = 2021-02-19
//
//	[[bugs]]
//	analyzer = "UnsafeDataflow"
//	bug_class = "InconsistencyAmplification"
//	rudra_report_locations = ["src/lib.rs:896:5: 920:6"]
//	```
//	!*/
//
// Everything after the closing `!*/` line is the case body.
//
// # Validation
//
// Decoding is strict: unknown keys are rejected so typos surface as
// MalformedMetadata instead of silently dropping an expectation. Required
// fields (target.crate, target.version, report.issue_url) are checked first,
// then the whole document is unified with the CUE schema in schema.cue, which
// owns the format rules (exact versions, URLs, RUSTSEC ids, positive counts).
//
// Parse is a pure function of (path, source): parsing the same bytes twice
// yields equal descriptors.
package meta
