package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/2beens/pressauth/internal/middleware"
	"github.com/2beens/pressauth/internal/telemetry/metrics"
	"github.com/2beens/pressauth/internal/telemetry/tracing"
	"github.com/2beens/pressauth/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxBodyBytes = 1 << 20

type route struct {
	name        string
	method      string
	path        string
	protected   bool
	rateLimited bool
	handler     http.HandlerFunc
}

type Handler struct {
	authService       *Service
	guard             *middleware.AuthGuard
	trustProxyHeaders bool
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	// seconds
	ExpiresIn int64 `json:"expires_in"`
}

func NewHandler(authService *Service, guard *middleware.AuthGuard, trustProxyHeaders bool) *Handler {
	return &Handler{
		authService:       authService,
		guard:             guard,
		trustProxyHeaders: trustProxyHeaders,
	}
}

// routes is the full list of auth endpoints. Protected routes never reach their
// handler without passing the guard.
func (handler *Handler) routes() []route {
	return []route{
		{name: "get-admin", method: http.MethodGet, path: "/admin", handler: handler.handleGetAdmin},
		{name: "put-admin", method: http.MethodPut, path: "/admin", protected: true, handler: handler.handlePutAdmin},
		{name: "login", method: http.MethodPost, path: "/login", rateLimited: true, handler: handler.handleLogin},
		{name: "check-token", method: http.MethodPost, path: "/check", protected: true, handler: handler.handleCheckToken},
	}
}

func (handler *Handler) SetupRoutes(
	mainRouter *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	loginAllowedPerMin int,
	metricsManager *metrics.Manager,
) {
	authRouter := mainRouter.PathPrefix("/auth").Subrouter()

	var loginLimit func(http.Handler) http.Handler
	if rateLimiter != nil {
		loginLimit = middleware.RateLimit(rateLimiter, "login", loginAllowedPerMin, handler.trustProxyHeaders, metricsManager)
	}

	routes := handler.routes()
	allowed := allowedMethods(routes)
	for _, rt := range routes {
		authRouter.
			Handle(rt.path, handler.gate(rt, loginLimit)).
			Methods(rt.method).
			Name(rt.name)
		log.Debugf("auth route registered: %s", rt)
	}

	for path, methods := range allowed {
		authRouter.
			HandleFunc(path, handleOptions(methods)).
			Methods(http.MethodOptions).
			Name("options" + strings.ReplaceAll(path, "/", "-"))
	}
}

// gate wraps a route with what it requires before the handler runs.
func (handler *Handler) gate(rt route, loginLimit func(http.Handler) http.Handler) http.Handler {
	var h http.Handler = rt.handler
	if rt.protected {
		h = handler.guard.Guard(h)
	}
	if rt.rateLimited && loginLimit != nil {
		h = loginLimit(h)
	}
	return h
}

func allowedMethods(routes []route) map[string]string {
	byPath := map[string][]string{}
	for _, rt := range routes {
		byPath[rt.path] = append(byPath[rt.path], rt.method)
	}

	allowed := make(map[string]string, len(byPath))
	for path, methods := range byPath {
		sort.Strings(methods)
		allowed[path] = strings.Join(append(methods, http.MethodOptions), ", ")
	}
	return allowed
}

func handleOptions(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Allow", allow)
		w.WriteHeader(http.StatusOK)
	}
}

func (handler *Handler) handleGetAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.getAdmin")
	defer span.End()

	profile, err := handler.authService.GetAdminInfo(ctx)
	if err != nil {
		log.Errorf("get admin info: %s", err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "failed to get admin info", http.StatusInternalServerError)
		return
	}

	writeJSON(w, profile)
}

func (handler *Handler) handlePutAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.putAdmin")
	defer span.End()

	var update AdminUpdate
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&update); err != nil {
		log.Debugf("put admin, unmarshal json params: %s", err)
		span.SetStatus(codes.Error, "bad-request")
		http.Error(w, "error, invalid admin info", http.StatusBadRequest)
		return
	}

	profile, err := handler.authService.PutAdminInfo(ctx, update)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			span.SetStatus(codes.Error, "validation")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Errorf("put admin info: %s", err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "failed to update admin info", http.StatusInternalServerError)
		return
	}

	log.Info("admin info updated")
	span.SetStatus(codes.Ok, "updated")
	writeJSON(w, profile)
}

func (handler *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.login")
	defer span.End()

	type loginRequest struct {
		Password string `json:"password"`
	}

	var loginReq loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&loginReq); err != nil {
			log.Debugf("login, unmarshal json params: %s", err)
			http.Error(w, "login failed", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			log.Debugf("login failed, parse form error: %s", err)
			http.Error(w, "login failed", http.StatusBadRequest)
			return
		}
		loginReq = loginRequest{
			Password: r.Form.Get("password"),
		}
	}

	clientIP, err := pkg.ReadUserIP(r, handler.trustProxyHeaders)
	if err != nil {
		log.Warnf("login, read client ip: %s", err)
		clientIP = ""
	}
	span.SetAttributes(attribute.String("user.ip", clientIP))

	sessionToken, err := handler.authService.Login(ctx, loginReq.Password, clientIP)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			log.Tracef("[password] failed login attempt from: %s", clientIP)
			span.SetStatus(codes.Error, "wrong-credentials")
			http.Error(w, "error, wrong credentials", http.StatusBadRequest)
			return
		}
		log.Errorf("login failed: %s", err)
		span.SetStatus(codes.Error, err.Error())
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	log.Infof("new login success from: %s", clientIP)
	span.SetStatus(codes.Ok, "logged-in")
	writeJSON(w, LoginResponse{
		Token:     sessionToken.Token,
		ExpiresAt: sessionToken.ExpiresAt,
		ExpiresIn: int64(time.Until(sessionToken.ExpiresAt).Round(time.Second) / time.Second),
	})
}

func (handler *Handler) handleCheckToken(w http.ResponseWriter, r *http.Request) {
	_, span := tracing.GlobalTracer.Start(r.Context(), "authHandler.checkToken")
	defer span.End()

	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		span.SetAttributes(attribute.String("auth.token.id", claims.ID))
	}

	pkg.WriteTextResponseOK(w, handler.authService.CheckToken())
}

func writeJSON(w http.ResponseWriter, v any) {
	respBytes, err := json.Marshal(v)
	if err != nil {
		log.Errorf("marshal response: %s", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respBytes)
}

func (rt route) String() string {
	return fmt.Sprintf("%s %s [%s]", rt.method, rt.path, rt.name)
}
