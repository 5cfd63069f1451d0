// Package errors re-exports github.com/cockroachdb/errors for the pipeline.
//
// Callers get stack-carrying errors, secondary errors and marks from one
// import:
//
//	if err := store.RecordJobStart(ctx, id); err != nil {
//	    return errors.Wrapf(err, "record start for %s", id)
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New                = crdb.New
	Newf               = crdb.Newf
	Wrap               = crdb.Wrap
	Wrapf              = crdb.Wrapf
	WithSecondaryError = crdb.WithSecondaryError
	Mark               = crdb.Mark
)

// Inspection
var (
	Is        = crdb.Is
	UnwrapAll = crdb.UnwrapAll
)

// Assertions
var (
	AssertionFailedf   = crdb.AssertionFailedf
	IsAssertionFailure = crdb.IsAssertionFailure
)
