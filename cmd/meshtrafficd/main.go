// Command meshtrafficd is a demo/smoke-test binary: it loads a directory
// of circuit breaker and routing rules, wires a BreakerRegistry and
// RuleRouter together, and serves a small HTTP API so the two hardest
// subsystems of the library can be exercised end-to-end.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sneha4175/meshtraffic/internal/breaker"
	"github.com/sneha4175/meshtraffic/internal/events"
	"github.com/sneha4175/meshtraffic/internal/healthcheck"
	"github.com/sneha4175/meshtraffic/internal/middleware"
	"github.com/sneha4175/meshtraffic/internal/registry"
	"github.com/sneha4175/meshtraffic/internal/resource"
	"github.com/sneha4175/meshtraffic/internal/router"
	"github.com/sneha4175/meshtraffic/internal/rulesource"
	"github.com/sneha4175/meshtraffic/internal/scheduler"
	"github.com/sneha4175/meshtraffic/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
	commit    = "none"
)

func main() {
	var (
		rulesDir    = flag.String("rules", "configs/rules", "directory of circuit breaker / routing rule YAML files")
		addr        = flag.String("addr", ":8080", "address for the report/route API")
		adminAddr   = flag.String("admin-addr", ":9090", "address for /metrics and /healthz")
		redisURL    = flag.String("redis-url", "", "optional Redis URL for breaker event publishing")
		envKey      = flag.String("env-key", "env", "reserved metadata key propagated across multi-env routing")
		failover    = flag.String("failover", "none", "default failover policy: none | all")
		healthPath  = flag.String("health-path", "/health", "path probed on instances registered for active health checking")
		showVersion = flag.Bool("version", false, "show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("meshtrafficd version=%s commit=%s buildTime=%s\n", version, commit, buildTime)
		os.Exit(0)
	}

	rawLogger, _ := zap.NewProduction()
	log := rawLogger.Sugar()
	defer log.Sync() //nolint:errcheck

	log.Infow("starting meshtrafficd", "version", version, "rules", *rulesDir)

	ruleSet, watcher, err := rulesource.LoadAndWatch(*rulesDir, log)
	if err != nil {
		log.Fatalw("failed to load rules", "err", err)
	}
	defer watcher.Close()

	var publisher *events.Publisher
	if *redisURL != "" {
		opts, err := redis.ParseURL(*redisURL)
		if err != nil {
			log.Fatalw("invalid redis url", "err", err)
		}
		publisher = events.NewPublisher(redis.NewClient(opts), "", log)
		defer publisher.Close()
	}

	observer := breaker.MultiObserver{telemetry.NewBreakerObserver(), publisher}
	reg := registry.New(scheduler.New(), observer)
	applyRuleSet(reg, ruleSet)

	defaultFailover := router.FailoverNone
	if *failover == "all" {
		defaultFailover = router.FailoverAll
	}
	rt := router.New(router.Config{
		Checker:         reg,
		Globals:         map[string]string{},
		EnvKey:          *envKey,
		DefaultFailover: defaultFailover,
		Log:             log,
		Observer:        telemetry.NewRouteObserver(),
	})

	checker := healthcheck.New(reg, *healthPath, log)
	defer checker.Stop()

	app := &app{reg: reg, router: rt, ruleSet: ruleSet, log: log, failover: defaultFailover, checker: checker}

	go func() {
		for newSet := range watcher.Updates() {
			log.Infow("rule set reloaded, applying changes")
			app.setRuleSet(newSet)
			applyRuleSet(reg, newSet)
		}
	}()

	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", metricsHandler())
	adminMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	adminSrv := &http.Server{Addr: *adminAddr, Handler: adminMux, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	apiMux := http.NewServeMux()
	apiMux.Handle("/report", middleware.Metrics("report")(http.HandlerFunc(app.handleReport)))
	apiMux.Handle("/check", middleware.Metrics("check")(http.HandlerFunc(app.handleCheck)))
	apiMux.Handle("/route", middleware.Metrics("route")(http.HandlerFunc(app.handleRoute)))
	apiMux.Handle("/instances", middleware.Metrics("instances")(http.HandlerFunc(app.handleInstances)))
	handler := middleware.Chain(apiMux, middleware.RequestID, middleware.Logger(log), middleware.Recovery(log))
	mainSrv := &http.Server{Addr: *addr, Handler: handler, ReadTimeout: 30 * time.Second, WriteTimeout: 30 * time.Second, IdleTimeout: 120 * time.Second}

	go func() {
		log.Infow("admin server listening", "addr", *adminAddr)
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("admin server failed", "err", err)
		}
	}()
	go func() {
		log.Infow("api server listening", "addr", *addr)
		if err := mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("api server failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Infow("shutting down gracefully…")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = adminSrv.Shutdown(ctx)
	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Errorw("graceful shutdown failed", "err", err)
	}
	log.Infow("goodbye")
}

// applyRuleSet pushes every decoded binding into the registry. Routes are
// held by app and read fresh on every /route call; the registry itself
// only needs the circuit breaker bindings.
func applyRuleSet(reg *registry.Registry, set *rulesource.RuleSet) {
	for _, b := range set.Bindings {
		reg.SetRule(b.Service, b.Level, b.Rule)
	}
}

// ---------------------------------------------------------------------------
// HTTP API
// ---------------------------------------------------------------------------

type app struct {
	reg      *registry.Registry
	router   *router.RuleRouter
	log      *zap.SugaredLogger
	failover router.FailoverPolicy
	checker  *healthcheck.Checker

	ruleSet *rulesource.RuleSet
}

func (a *app) setRuleSet(set *rulesource.RuleSet) { a.ruleSet = set }

type reportRequest struct {
	Namespace    string `json:"namespace"`
	Service      string `json:"service"`
	Method       string `json:"method,omitempty"`
	Subset       string `json:"subset,omitempty"`
	SubsetLabels map[string]string `json:"subset_labels,omitempty"`
	Host         string `json:"host,omitempty"`
	Port         int    `json:"port,omitempty"`
	Status       string `json:"status"` // success | fail | unknown
	ReturnCode   int    `json:"return_code"`
	DelayMillis  int64  `json:"delay_millis"`
}

func (a *app) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res := resolveResource(req)
	sample := breaker.ResourceStat{
		ReturnStatus: parseStatus(req.Status),
		ReturnCode:   req.ReturnCode,
		DelayMillis:  req.DelayMillis,
		Timestamp:    time.Now(),
	}
	a.reg.Report(res, sample)
	middleware.SetOutcome(r, req.Status)
	w.WriteHeader(http.StatusAccepted)
}

func (a *app) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	res := resolveResource(req)
	result := a.reg.Check(res)
	if result.Pass {
		middleware.SetOutcome(r, "pass")
	} else {
		middleware.SetOutcome(r, "fail:"+result.RuleName)
	}
	writeJSON(w, result)
}

type routeRequest struct {
	SourceNamespace string            `json:"source_namespace"`
	SourceService   string            `json:"source_service"`
	DestNamespace   string            `json:"dest_namespace"`
	DestService     string            `json:"dest_service"`
	TrafficLabels   map[string]string `json:"traffic_labels,omitempty"`
	Instances       []router.Instance `json:"instances"`
}

func (a *app) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	info := &router.RouteInfo{
		SourceNamespace: req.SourceNamespace,
		SourceService:   req.SourceService,
		DestNamespace:   req.DestNamespace,
		DestService:     req.DestService,
		TrafficLabels:   req.TrafficLabels,
		Inbound:         a.ruleSet.Inbound,
		Outbound:        a.ruleSet.Outbound,
	}
	result := a.router.Route(info, req.Instances)
	switch {
	case len(result.Instances) == 0:
		middleware.SetOutcome(r, "no-instances")
	case info.SelectedSubset != "":
		middleware.SetOutcome(r, "routed:"+info.SelectedSubset)
	default:
		middleware.SetOutcome(r, "routed")
	}
	writeJSON(w, result)
}

type instancesRequest struct {
	Namespace string            `json:"namespace"`
	Service   string            `json:"service"`
	Subset    string            `json:"subset,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Instances []router.Instance `json:"instances"`
}

// handleInstances registers a set of instances for active health probing:
// the checker polls each one's health endpoint and reports Success/Fail
// samples to the registry under the given resource, so a backend that
// fails its health check trips the same breaker a reported RPC failure
// would.
func (a *app) handleInstances(w http.ResponseWriter, r *http.Request) {
	var req instancesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var res resource.Resource
	if req.Subset != "" {
		res = resource.Subset{NS: req.Namespace, Svc: req.Service, Name: req.Subset, Metadata: req.Metadata}
	} else {
		res = resource.Service{NS: req.Namespace, Svc: req.Service}
	}
	a.checker.Update(res, req.Instances)
	middleware.SetOutcome(r, fmt.Sprintf("registered:%d", len(req.Instances)))
	w.WriteHeader(http.StatusAccepted)
}

func resolveResource(req reportRequest) resource.Resource {
	switch {
	case req.Host != "":
		return resource.Instance{NS: req.Namespace, Svc: req.Service, Host: req.Host, Port: req.Port}
	case req.Subset != "":
		return resource.Subset{NS: req.Namespace, Svc: req.Service, Name: req.Subset, Metadata: req.SubsetLabels}
	case req.Method != "":
		return resource.Method{NS: req.Namespace, Svc: req.Service, Name: req.Method}
	default:
		return resource.Service{NS: req.Namespace, Svc: req.Service}
	}
}

func parseStatus(s string) breaker.ReturnStatus {
	switch s {
	case "success":
		return breaker.Success
	case "fail":
		return breaker.Fail
	default:
		return breaker.Unknown
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
