// Package pipeline runs a single governed generation: it drives the content
// ports through generate, validate, review, refine and tag, applies the
// gate after every review, and finalizes an auditable RunArtifact.
//
// Flow:
//
//	START -> GENERATING -> VALIDATING -> REVIEWING -> TAGGING -> FINALIZED
//	                                      ^     |
//	                                      |     v
//	                                      REFINING
//
// A run holds at most three attempts: the first draft and two refinements.
// Every exit path, including port failures and cancellation, produces a
// valid artifact; Run returns an error only for invalid input.
package pipeline
