package backend

import (
	"context"
	"net/http"
)

// Exchange receives the outcome of one proxied request. The reverse proxy of
// every backend delegates response modification and error handling to the
// Exchange stored in the request context.
type Exchange interface {
	// OnResponse is called once the backend's response headers arrive.
	// Returning an error discards the response and triggers OnError.
	OnResponse(res *http.Response) error
	// OnError is called when the backend could not be reached or the
	// response was rejected. Nothing has been written to w yet.
	OnError(w http.ResponseWriter, r *http.Request, err error)
}

type exchangeKey struct{}

// WithExchange returns a context carrying ex.
func WithExchange(ctx context.Context, ex Exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

func exchangeFrom(ctx context.Context) Exchange {
	ex, _ := ctx.Value(exchangeKey{}).(Exchange)
	return ex
}
