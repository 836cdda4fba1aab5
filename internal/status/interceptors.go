package status

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/SyedDaiam9101/inpaint-predict/internal/metrics"
)

const (
	// RequestIDHeader is the metadata key for the request ID
	RequestIDHeader = "x-request-id"
	// RunIDHeader is the response header carrying the prediction run ID
	RunIDHeader = "x-run-id"
)

type requestIDKey struct{}

// UnaryRequestIDInterceptor extracts x-request-id from incoming metadata or
// generates a new UUID if not present. The request ID and the run ID are
// echoed back as response headers.
func UnaryRequestIDInterceptor(runID string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		requestID := extractRequestID(ctx)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, requestID)

		// Fails outside a real server transport; the header is best effort.
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, requestID, RunIDHeader, runID))

		return handler(ctx, req)
	}
}

// UnaryMetricsInterceptor records the latency of each call with method and
// status code labels.
func UnaryMetricsInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		metrics.RecordStatusLatency(info.FullMethod, codeOf(err), time.Since(start).Seconds())

		return resp, err
	}
}

// UnaryLoggingInterceptor logs each call at debug level with the request ID
// set by UnaryRequestIDInterceptor.
func UnaryLoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug().
			Str("method", info.FullMethod).
			Str("request_id", GetRequestID(ctx)).
			Str("code", codeOf(err)).
			Dur("elapsed", time.Since(start)).
			Msg("status call")
		return resp, err
	}
}

func codeOf(err error) string {
	if err == nil {
		return "OK"
	}
	if st, ok := grpcstatus.FromError(err); ok {
		return st.Code().String()
	}
	return "Unknown"
}

func extractRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(RequestIDHeader)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// GetRequestID retrieves the request ID from the context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
