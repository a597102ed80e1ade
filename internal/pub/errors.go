package pub

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrInvalidOptions is wrapped by every error returned for invalid Options.
var ErrInvalidOptions = errors.New("invalid publisher options")

// ErrPublisherClosed settles results of messages published after Close.
var ErrPublisherClosed = status.Error(codes.FailedPrecondition, "publisher is closed")

// MismatchedMessageIDsError reports a successful batch response whose ack id
// count does not match the number of messages sent.
func MismatchedMessageIDsError(got, want int) error {
	return status.Error(codes.Unknown, fmt.Sprintf("mismatched message id count: got %d, want %d", got, want))
}

// ErrSendAborted settles results of a batch whose send panicked before it
// could settle them.
var ErrSendAborted = status.Error(codes.Internal, "batch send aborted")
