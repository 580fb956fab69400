// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

// Package api is the REST interface of the staking ledger.
package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/analytics"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/ledger"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/payment"
	"gitlab.com/accumulatenetwork/staking-ledger/internal/core/stakes"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/types/staking"
)

var mRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "staking",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "Time taken to serve API requests",
}, []string{"route", "code"})

const maxBodySize = 1 << 20

type Options struct {
	Ledger    *ledger.Ledger
	Stakes    *stakes.Manager
	Analytics *analytics.Aggregator
	Payment   *payment.Service
	Logger    zerolog.Logger

	// AllowedOrigins are the origins allowed by CORS.
	AllowedOrigins []string

	// Metrics serves Prometheus metrics if set.
	Metrics prometheus.Gatherer
}

type Handler struct {
	Options
	router   *httprouter.Router
	handler  http.Handler
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(opts Options) (*Handler, error) {
	h := new(Handler)
	h.Options = opts
	h.logger = opts.Logger.With().Str("module", "http").Logger()

	var err error
	h.validate, err = staking.NewValidator()
	if err != nil {
		return nil, errors.UnknownError.WithFormat("validator: %w", err)
	}

	h.router = httprouter.New()
	h.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, errors.NotFound.WithFormat("%s not found", r.URL.Path))
	})
	h.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, errors.NotAllowed.WithFormat("%s %s is not allowed", r.Method, r.URL.Path))
	})
	h.router.PanicHandler = func(w http.ResponseWriter, r *http.Request, v any) {
		h.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panicked")
		h.writeError(w, r, errors.InternalError.With("internal error"))
	}

	h.route(http.MethodGet, "/", h.health)
	h.route(http.MethodPost, "/users", h.createUser)
	h.route(http.MethodGet, "/users/:id", h.getUser)
	h.route(http.MethodGet, "/users/:id/stakes", h.getUserStakes)
	h.route(http.MethodGet, "/users/:id/transactions", h.getUserTransactions)
	h.route(http.MethodGet, "/users/:id/analytics", h.getUserAnalytics)
	h.route(http.MethodGet, "/analytics/platform", h.getPlatformAnalytics)
	h.route(http.MethodGet, "/stats", h.getPlatformAnalytics)
	h.route(http.MethodPost, "/payments/create", h.createPayment)
	h.route(http.MethodPost, "/payments/callback", h.paymentCallback)
	h.route(http.MethodPost, "/stake", h.createStake)
	h.route(http.MethodPost, "/unstake/:id", h.closeStake)

	if opts.Metrics != nil {
		h.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(h.router)
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// handlerFunc returns a response value or an error. The status defaults to
// 200.
type handlerFunc func(r *http.Request, params httprouter.Params) (status int, res any, err error)

func (h *Handler) route(method, path string, fn handlerFunc) {
	h.router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		start := time.Now()
		status, res, err := fn(r, params)
		if err != nil {
			status = h.writeError(w, r, err)
		} else {
			if status == 0 {
				status = http.StatusOK
			}
			h.write(w, r, status, res)
		}
		mRequests.WithLabelValues(path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to encode response")
	}
}

// errorResponse is the body of a failed request.
type errorResponse struct {
	Code    errors.Status `json:"code"`
	Message string        `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) int {
	code := errors.Code(err)
	status := HTTPStatus(code)
	if status >= 500 {
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.logger.Debug().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request rejected")
	}

	if !code.IsKnownError() {
		code = errors.InternalError
	}
	h.write(w, r, status, &errorResponse{Code: code, Message: err.Error()})
	return status
}

// HTTPStatus returns the HTTP status for an error code.
func HTTPStatus(code errors.Status) int {
	switch code {
	case errors.BadRequest,
		errors.InsufficientBalance,
		errors.NotAllowed,
		errors.NotFound,
		errors.Conflict,
		errors.AlreadyClosed,
		errors.InternalError,
		errors.BadGateway,
		errors.StorageError:
		return int(code)
	case errors.NotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// parse decodes and validates a JSON request body.
func (h *Handler) parse(r *http.Request, v any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	return h.decode(body, v)
}

func readBody(r *http.Request) ([]byte, error) {
	mediatype, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediatype != "" && mediatype != "application/json" && mediatype != "text/json" {
		return nil, errors.BadRequest.WithFormat("unsupported content type %q", mediatype)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, errors.BadRequest.WithFormat("read request body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, errors.BadRequest.With("request body is too large")
	}
	return body, nil
}

func (h *Handler) decode(body []byte, v any) error {
	err := json.Unmarshal(body, v)
	if err != nil {
		return errors.BadRequest.WithFormat("invalid request body: %v", err)
	}

	err = h.validate.Struct(v)
	if err != nil {
		return staking.ValidationError(err)
	}
	return nil
}
