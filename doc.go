// Package ace is the ACE analytic execution framework: pluggable analytics
// split into independent work blocks, run over typed binary data objects.
//
// # Architecture
//
// Data lives in data objects (pkg/data): a fixed header naming the payload
// kind, a system and a user metadata tree (pkg/metadata) and a binary
// payload read and written through a little-endian stream codec (pkg/stream).
// A data manager shares one open object per canonical path and notifies
// watchers when an object is overwritten or closed.
//
// An analytic (pkg/analytic) declares its inputs, is bound to opened
// inputs and created outputs, produces Size work blocks, executes them
// concurrently and processes the results strictly in index order. Its
// argument set is canonically encoded and fingerprinted so that separately
// run parts of one job can prove they belong together.
//
// # Execution
//
// The engine (internal/engine) runs a job in one of three ways:
//
//   - single: one process executes and processes every block
//   - chunk and merge: "ace chunkrun" runs a block range against read-only
//     inputs and stores its results in a chunk file; "ace merge" verifies
//     that all chunks exist and share a fingerprint, then folds them into
//     the outputs in index order
//   - coordinator and workers: rank 0 owns the outputs and hands blocks to
//     workers over TCP (or in-process pipes) and processes their results
//
// # Quick Start
//
//	ace run import-integer-array --in numbers.txt --out numbers.num
//	ace run math-transform --in numbers.num --out doubled.num \
//	    --type multiplication --amount 2
//	ace dump doubled.num --system --format yaml
//
// Split the same job into four chunks:
//
//	for i in 0 1 2 3; do
//	    ace chunkrun math-transform --index $i --size 4 --in numbers.num --out doubled.num \
//	        --type multiplication --amount 2
//	done
//	ace merge math-transform --size 4 --in numbers.num --out doubled.num \
//	    --type multiplication --amount 2
//
// # Configuration
//
// Settings are read from a YAML file (ace settings prints them, ace settings
// set changes them) and ACE_ environment variables, e.g.
// ACE_EXECUTION_THREADS=8. See pkg/config for every key.
package ace
