package server

import (
	"DSCEngine/internal/ingestion"
	"DSCEngine/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorBody is the HTTP error payload.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// route is one HTTP binding of a service method.
type route struct {
	method   string
	pattern  string
	endpoint string
	call     func(ctx context.Context, r *http.Request, params map[string]string) (any, error)
}

// NewGateway maps the engine service onto HTTP/JSON routes:
//
//	POST /v1/commands/{operation}
//	GET  /v1/users/{user}/account | health-factor | position | liquidations | journals
//	GET  /v1/users/{user}/collateral/{token}
//	GET  /v1/tokens/{token}/usd-value?amount= and /amount-from-usd?usd=
//	GET  /v1/parameters
//	POST /v1/admin/verify-integrity | rebuild-projections | snapshots
//	GET  /v1/admin/event-log
func NewGateway(svc *Service, metrics *observability.Metrics) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodPost, "/v1/commands/{operation}", "Execute", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			var req ingestion.CommandMessage
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode body: %v", err)
			}
			req.Operation = p["operation"]
			return svc.Execute(ctx, &req)
		}},
		{http.MethodGet, "/v1/users/{user}/account", "GetAccountInformation", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return svc.GetAccountInformation(ctx, &UserRequest{User: p["user"]})
		}},
		{http.MethodGet, "/v1/users/{user}/health-factor", "GetHealthFactor", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return svc.GetHealthFactor(ctx, &UserRequest{User: p["user"]})
		}},
		{http.MethodGet, "/v1/users/{user}/collateral/{token}", "GetCollateralBalance", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return svc.GetCollateralBalance(ctx, &CollateralBalanceRequest{User: p["user"], Token: p["token"]})
		}},
		{http.MethodGet, "/v1/users/{user}/position", "GetPosition", func(ctx context.Context, _ *http.Request, p map[string]string) (any, error) {
			return svc.GetPosition(ctx, &UserRequest{User: p["user"]})
		}},
		{http.MethodGet, "/v1/users/{user}/liquidations", "ListLiquidations", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := historyRequest(r, p["user"])
			if err != nil {
				return nil, err
			}
			return svc.ListLiquidations(ctx, req)
		}},
		{http.MethodGet, "/v1/users/{user}/journals", "ListJournals", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			req, err := historyRequest(r, p["user"])
			if err != nil {
				return nil, err
			}
			return svc.ListJournals(ctx, req)
		}},
		{http.MethodGet, "/v1/tokens/{token}/usd-value", "GetUsdValue", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			return svc.GetUsdValue(ctx, &ConversionRequest{Token: p["token"], Amount: r.URL.Query().Get("amount")})
		}},
		{http.MethodGet, "/v1/tokens/{token}/amount-from-usd", "GetTokenAmountFromUsd", func(ctx context.Context, r *http.Request, p map[string]string) (any, error) {
			return svc.GetTokenAmountFromUsd(ctx, &ConversionRequest{Token: p["token"], Amount: r.URL.Query().Get("usd")})
		}},
		{http.MethodGet, "/v1/parameters", "GetParameters", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetParameters(ctx, &Empty{})
		}},
		{http.MethodPost, "/v1/admin/verify-integrity", "VerifyIntegrity", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.VerifyIntegrity(ctx, &Empty{})
		}},
		{http.MethodPost, "/v1/admin/rebuild-projections", "RebuildProjections", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.RebuildProjections(ctx, &Empty{})
		}},
		{http.MethodPost, "/v1/admin/snapshots", "TakeSnapshot", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.TakeSnapshot(ctx, &Empty{})
		}},
		{http.MethodGet, "/v1/admin/event-log", "GetEventLogInfo", func(ctx context.Context, _ *http.Request, _ map[string]string) (any, error) {
			return svc.GetEventLogInfo(ctx, &Empty{})
		}},
	}

	for _, rt := range routes {
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			start := time.Now()
			resp, err := rt.call(r.Context(), r, params)
			observe(metrics, rt.endpoint, start, status.Code(err).String())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, resp)
		})
		if err != nil {
			return nil, fmt.Errorf("register route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return mux, nil
}

func historyRequest(r *http.Request, user string) (*HistoryRequest, error) {
	req := &HistoryRequest{User: user}
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err)
		}
		req.Limit = limit
	}
	if v := q.Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before_sequence: %v", err)
		}
		req.BeforeSequence = &seq
	}
	return req, nil
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), errorBody{
		Code:    st.Code().String(),
		Message: st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
