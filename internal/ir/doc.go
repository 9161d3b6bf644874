// Package ir holds the value model and the definition types shared by the
// rest of dsq.
//
// ir imports nothing internal. Everything else may import it, which keeps
// it the foundational layer with no circular dependencies.
//
// Contents:
//   - Value: the sealed constant model carried by conditions and definitions
//   - MarshalCanonical / Fingerprint: deterministic encoding for plan
//     fingerprints and golden traces
//   - DocumentSpec, DataSourceSpec, PlanSpec: the output of the CUE
//     definition compiler
//
// All JSON tags use snake_case.
package ir
