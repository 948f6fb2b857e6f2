package mongodb

import (
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/janovincze/hermes/internal/tap/source"
)

var (
	// ErrMissingDatabase is returned when the database name is not provided.
	ErrMissingDatabase = errors.New("mongodb: database name is required")

	// ErrMissingConnection is returned when neither a connection URI nor a
	// credential JSON is provided.
	ErrMissingConnection = errors.New("mongodb: connection URI or credential JSON is required")

	// ErrEnableRejected is returned when the modifyChangeStreams admin
	// command completes without reporting success.
	ErrEnableRejected = errors.New("mongodb: modifyChangeStreams command was not acknowledged")
)

// Server error codes the tap reacts to. DocumentDB raises 136 when a
// change stream is opened on a collection without change streams
// enabled; 286 (ChangeStreamHistoryLost) means the resume point has
// aged out of the oplog.
const (
	codeCappedPositionLost      = 136
	codeChangeStreamHistoryLost = 286
)

const capabilityMessageFragment = "modifyChangeStreams has not been run"

// classify maps a driver error to a tagged source.Error so the
// replication core never sees raw transport errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch {
		case cmdErr.Code == codeCappedPositionLost && strings.Contains(cmdErr.Message, capabilityMessageFragment):
			return source.NewError(source.KindCapabilityNotEnabled, op, err)
		case cmdErr.Code == codeChangeStreamHistoryLost:
			return source.NewError(source.KindResumeExpired, op, err)
		}
	}

	var srvErr mongo.ServerError
	if errors.As(err, &srvErr) {
		switch {
		case srvErr.HasErrorCode(codeCappedPositionLost) && srvErr.HasErrorMessage(capabilityMessageFragment):
			return source.NewError(source.KindCapabilityNotEnabled, op, err)
		case srvErr.HasErrorCode(codeChangeStreamHistoryLost):
			return source.NewError(source.KindResumeExpired, op, err)
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return source.NewError(source.KindTransient, op, err)
	}

	return source.NewError(source.KindFatal, op, err)
}
