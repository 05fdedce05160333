package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mongoreindex/mongoreindex"
)

// retryableErrorCodes lists MongoDB server error codes that indicate a
// transient condition (network blip, primary step-down, replication
// state change) rather than a genuine problem with the request.
var retryableErrorCodes = []int{
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	189,   // PrimarySteppedDown
	91,    // ShutdownInProgress
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	9001,  // SocketException
	262,   // ExceededTimeLimit
}

// classify maps a raw driver error into a mongoreindex.Error, choosing
// Retryable for transient network/topology conditions, Aborted for a
// canceled context, and Fatal for everything else (auth, validation,
// IndexOptionsConflict on a spec that will never succeed as requested).
// A nil error classifies to nil.
func classify(op string, err error) *mongoreindex.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return mongoreindex.NewError(mongoreindex.KindRetryable, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return mongoreindex.NewError(mongoreindex.KindAborted, op, err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel("RetryableWriteError") || isRetryableCode(se) {
			return mongoreindex.NewError(mongoreindex.KindRetryable, op, err)
		}
		return mongoreindex.NewError(mongoreindex.KindFatal, op, err)
	}

	var ce mongo.CommandError
	if errors.As(err, &ce) {
		if ce.HasErrorLabel("RetryableWriteError") {
			return mongoreindex.NewError(mongoreindex.KindRetryable, op, err)
		}
		return mongoreindex.NewError(mongoreindex.KindFatal, op, err)
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return mongoreindex.NewError(mongoreindex.KindRetryable, op, err)
	}

	return mongoreindex.NewError(mongoreindex.KindFatal, op, err)
}

func isRetryableCode(se mongo.ServerError) bool {
	for _, c := range retryableErrorCodes {
		if se.HasErrorCode(c) {
			return true
		}
	}
	return false
}

// indexOptionsConflict reports whether err is the server's
// IndexOptionsConflict error, used to distinguish "the index exists with
// the expected spec, adopt it" from "the index exists with a mismatched
// spec, drop and recreate".
func indexOptionsConflict(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Name == "IndexOptionsConflict" || ce.Code == 85 || ce.Code == 86
	}
	return false
}

// indexNotFound reports whether err is the server's IndexNotFound error,
// used to make DropIndex idempotent.
func indexNotFound(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		return ce.Name == "IndexNotFound" || ce.Code == 27
	}
	return false
}
