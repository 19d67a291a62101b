// Package handlers exposes the ledger over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/rschio/ledger/internal/core/customer"
	"go.opentelemetry.io/otel/trace"
)

// APIMux constructs a http.Handler with all application routes defined.
func APIMux(s *Server, tracer trace.Tracer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /clientes/{id}/transacoes", middlewareWeb(s.log, tracer, s.Transactions))
	mux.Handle("GET /clientes/{id}/extrato", middlewareWeb(s.log, tracer, s.Statement))
	mux.Handle("GET /readiness", middlewareWeb(s.log, tracer, s.Readiness))

	return mux
}

// StatusChecker reports whether a dependency of the service is healthy.
type StatusChecker func(ctx context.Context) error

type Server struct {
	log      *slog.Logger
	customer *customer.Core
	check    StatusChecker
}

// NewServer constructs a Server. A nil check makes the service always ready.
func NewServer(log *slog.Logger, c *customer.Core, check StatusChecker) *Server {
	return &Server{log: log, customer: c, check: check}
}

func (s *Server) Transactions(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s,
		func(ctx context.Context, id int, req TransactionsReq) (TransactionsResp, error) {
			nt := customer.NewTransaction{
				Value:       req.Value,
				Type:        customer.Type(req.Type),
				Description: req.Description,
			}

			c, err := s.customer.AddTransaction(ctx, id, nt)
			if err != nil {
				return TransactionsResp{}, err
			}

			return TransactionsResp{
				Limit:   c.Limit,
				Balance: c.Balance,
			}, nil
		},
	)
}

func (s *Server) Statement(w http.ResponseWriter, r *http.Request) {
	serveJSON(w, r, s,
		func(ctx context.Context, id int, req struct{}) (StatementResp, error) {
			st, err := s.customer.Statement(ctx, id)
			if err != nil {
				return StatementResp{}, err
			}

			return toStatementResp(st), nil
		},
	)
}

// Readiness checks if the database is ready to serve requests.
func (s *Server) Readiness(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status string `json:"status"`
	}{
		Status: "ok",
	}
	code := http.StatusOK

	if s.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), time.Second)
		defer cancel()

		if err := s.check(ctx); err != nil {
			s.log.ErrorContext(ctx, "readiness failure", "ERROR", err)
			status.Status = "db not ready"
			code = http.StatusInternalServerError
		}
	}

	respond(w, r, s, code, status)
}

func getID(r *http.Request) (int, error) {
	sID := r.PathValue("id")
	return strconv.Atoi(sID)
}

func serveJSON[Req any, Resp any](
	w http.ResponseWriter,
	r *http.Request,
	s *Server,
	fn func(ctx context.Context, id int, req Req) (Resp, error),
) {
	ctx := r.Context()

	var req Req
	if r.Method != http.MethodGet {
		if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
			s.log.InfoContext(ctx, "request must be a json")
			http.Error(w, "request must be a json", http.StatusUnsupportedMediaType)
			return
		}

		err := json.NewDecoder(r.Body).Decode(&req)
		r.Body.Close()
		if err != nil {
			s.log.InfoContext(ctx, "decoding json", "ERROR", err)
			http.Error(w, "unprocessable request", http.StatusUnprocessableEntity)
			return
		}
	}

	id, err := getID(r)
	if err != nil {
		s.log.InfoContext(ctx, "getID", "ERROR", err)
		http.Error(w, "invalid id", http.StatusNotFound)
		return
	}

	resp, err := fn(ctx, id, req)
	if err != nil {
		if !customer.IsClientError(err) {
			s.log.ErrorContext(ctx, "fn", "ERROR", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		s.log.InfoContext(ctx, "fn", "ERROR", err)
		switch {
		case errors.Is(err, customer.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		default:
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		}
		return
	}

	respond(w, r, s, http.StatusOK, resp)
}

func respond(w http.ResponseWriter, r *http.Request, s *Server, code int, data any) {
	bs, err := json.Marshal(data)
	if err != nil {
		s.log.ErrorContext(r.Context(), "failed to encode response", "ERROR", err)
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(bs)
}
