package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// handler is an http.Handler that returns an error.
type handler func(w http.ResponseWriter, r *http.Request) error

// middleware chains handlers together.
type middleware func(handler handler) handler

// router routes provider API requests to handlers, wrapping each in a span
// continued from the caller's trace context.
type router struct {
	mux    *http.ServeMux
	mw     []middleware
	log    *slog.Logger
	tracer trace.Tracer
	prop   propagation.TextMapPropagator
}

func newRouter(log *slog.Logger, tracer trace.Tracer, mw ...middleware) *router {
	return &router{
		mux:    http.NewServeMux(),
		mw:     mw,
		log:    log,
		tracer: tracer,
		prop:   propagation.TraceContext{},
	}
}

func (rt *router) handle(method, pattern string, fn handler) {
	fn = wrap(rt.mw, fn)

	h := func(w http.ResponseWriter, r *http.Request) {
		ctx, span := rt.startSpan(r)
		defer span.End()

		if err := fn(w, r.WithContext(ctx)); err != nil {
			rt.log.Error("storagetest", "method", r.Method, "path", r.URL.Path, "error", err)
		}
	}

	rt.mux.HandleFunc(fmt.Sprintf("%s %s", method, pattern), h)
}

func (rt *router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// wrap middleware around the handler and execute in order given.
func wrap(mw []middleware, fn handler) handler {
	for _, mwFn := range slices.Backward(mw) {
		if mwFn != nil {
			fn = mwFn(fn)
		}
	}

	return fn
}

func (rt *router) startSpan(r *http.Request) (context.Context, trace.Span) {
	ctx := rt.prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := rt.tracer.Start(ctx, "storagetest.handler", trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(
		attribute.String("http.method", r.Method),
		attribute.String("path", r.URL.Path),
	)

	return ctx, span
}

// providerError is an error answered the way the provider does.
type providerError struct {
	Code    int
	Message string
}

func (e providerError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

func newError(code int, msg string) error {
	return providerError{Code: code, Message: msg}
}

// errorsMW answers providerErrors with the provider's JSON error body. Any
// other error is answered with a 500 and passed up to be logged.
func errorsMW(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		err := fn(w, r)
		if err == nil {
			return nil
		}

		pe, ok := errors.AsType[providerError](err)
		if !ok {
			pe = providerError{Code: http.StatusInternalServerError, Message: "Internal Server Error"}
		}

		if rerr := respondJSON(w, r, pe.Code, map[string]any{"HttpCode": pe.Code, "Message": pe.Message}); rerr != nil {
			return errors.Join(err, rerr)
		}
		if !ok {
			return err
		}

		return nil
	}
}

// respondJSON writes data with statusCode. HEAD requests get no body.
func respondJSON(w http.ResponseWriter, r *http.Request, statusCode int, data any) error {
	if statusCode == http.StatusNoContent || r.Method == http.MethodHead {
		w.WriteHeader(statusCode)
		return nil
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if _, err = w.Write(jsonData); err != nil {
		return err
	}

	return nil
}
