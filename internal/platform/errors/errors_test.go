package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	t.Parallel()

	err := New(CodeClaimConflict, "word already held")
	if !stderrors.Is(err, New(CodeClaimConflict, "other message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeNotFound, "word already held")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("disk full")
	err := Wrap(CodeStoreUnavailable, "install claim", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be traversable")
	}
}

func TestGRPCCodeMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		code Code
		want codes.Code
	}{
		{CodeInvalidWord, codes.InvalidArgument},
		{CodeInvalidWager, codes.InvalidArgument},
		{CodeClaimConflict, codes.AlreadyExists},
		{CodeNotFound, codes.NotFound},
		{CodeStateMismatch, codes.FailedPrecondition},
		{CodeStoreUnavailable, codes.Unavailable},
		{CodeSettlementInconsistency, codes.DataLoss},
		{CodeUnknown, codes.Internal},
	}

	for _, tc := range testCases {
		if got := tc.code.GRPCCode(); got != tc.want {
			t.Fatalf("GRPCCode(%s) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestToGRPCStatusAttachesErrorInfo(t *testing.T) {
	t.Parallel()

	err := WithMetadata(CodeClaimConflict, "word already held", map[string]string{
		"word":  "kayak",
		"owner": "user-1",
	})
	st, ok := status.FromError(err.ToGRPCStatus())
	if !ok {
		t.Fatal("expected a gRPC status error")
	}
	if st.Code() != codes.AlreadyExists {
		t.Fatalf("status code = %v, want %v", st.Code(), codes.AlreadyExists)
	}

	var info *errdetails.ErrorInfo
	for _, detail := range st.Details() {
		if d, ok := detail.(*errdetails.ErrorInfo); ok {
			info = d
		}
	}
	if info == nil {
		t.Fatal("expected ErrorInfo detail")
	}
	if info.Reason != string(CodeClaimConflict) {
		t.Fatalf("reason = %q, want %q", info.Reason, CodeClaimConflict)
	}
	if info.Domain != Domain {
		t.Fatalf("domain = %q, want %q", info.Domain, Domain)
	}
	if info.Metadata["word"] != "kayak" {
		t.Fatalf("metadata word = %q, want %q", info.Metadata["word"], "kayak")
	}
}
