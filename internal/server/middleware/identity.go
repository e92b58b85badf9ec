package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/lmsrmarket/internal/domain"
)

// Caller identity headers. The signature is an EIP-191 personal signature
// over "{METHOD} {PATH} {TIMESTAMP}".
const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
	HeaderCallerSignature = "X-Caller-Signature"
)

type callerKey struct{}

// SignatureVerifier checks a request signature against a claimed address.
type SignatureVerifier interface {
	Verify(claimed common.Address, method, path string, timestamp int64, signatureHex string) error
}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller domain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the authenticated caller, if the request carried one.
func CallerFrom(ctx context.Context) (domain.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(domain.Address)
	return c, ok
}

// Identity returns middleware that authenticates the caller from the
// X-Caller-* headers. Requests without the headers pass through anonymously;
// handlers that mutate state require a caller. Requests with headers that do
// not verify are rejected with 401.
func Identity(verifier SignatureVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addrHex := r.Header.Get(HeaderCallerAddress)
			if addrHex == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(addrHex) {
				writeJSONError(w, http.StatusUnauthorized, "invalid caller address")
				return
			}
			ts, err := strconv.ParseInt(r.Header.Get(HeaderCallerTimestamp), 10, 64)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "invalid caller timestamp")
				return
			}

			addr := common.HexToAddress(addrHex)
			sig := r.Header.Get(HeaderCallerSignature)
			if err := verifier.Verify(addr, r.Method, r.URL.Path, ts, sig); err != nil {
				logger.WarnContext(r.Context(), "identity: signature rejected",
					slog.String("caller", addr.Hex()),
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid caller signature")
				return
			}

			recordCaller(w, addr.Hex())
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), addr)))
		})
	}
}
