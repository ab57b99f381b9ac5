package healthcheck

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sneha4175/meshtraffic/internal/breakerrule"
	"github.com/sneha4175/meshtraffic/internal/registry"
	"github.com/sneha4175/meshtraffic/internal/resource"
	"github.com/sneha4175/meshtraffic/internal/router"
)

type fakeScheduler struct{}

func (fakeScheduler) ScheduleOnce(_ time.Duration, _ func()) func() { return func() {} }

func hostPort(t *testing.T, srv *httptest.Server) (string, int) {
	t.Helper()
	u := strings.TrimPrefix(srv.URL, "http://")
	parts := strings.Split(u, ":")
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		t.Fatalf("parse test server port: %v", err)
	}
	return parts[0], port
}

func TestCheckerTripsBreakerOnFailingProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)

	reg := registry.New(fakeScheduler{}, nil)
	svcKey := resource.ServiceKey{Namespace: "ns", Svc: "checkout"}
	reg.SetRule(svcKey, resource.LevelService, &breakerrule.CircuitBreakerRule{
		Name:     "r1",
		Triggers: []breakerrule.TriggerCondition{{Kind: breakerrule.TriggerConsecutiveError, ErrorCount: 1}},
		Recover:  breakerrule.RecoverCondition{SleepWindowSeconds: 30, ConsecutiveSuccessCount: 1},
	})

	checker := New(reg, "/", nil)
	defer checker.Stop()

	svc := resource.Service{NS: "ns", Svc: "checkout"}
	checker.Update(svc, []router.Instance{{Host: host, Port: port}})
	checker.checkAll(context.Background()) // force an immediate probe instead of waiting on the ticker

	if reg.Check(svc).Pass {
		t.Fatal("expected a failing health probe to trip the breaker")
	}
}

func TestCheckerDoesNotTripOnHealthyProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	host, port := hostPort(t, srv)

	reg := registry.New(fakeScheduler{}, nil)
	svcKey := resource.ServiceKey{Namespace: "ns", Svc: "checkout"}
	reg.SetRule(svcKey, resource.LevelService, &breakerrule.CircuitBreakerRule{
		Name:     "r1",
		Triggers: []breakerrule.TriggerCondition{{Kind: breakerrule.TriggerConsecutiveError, ErrorCount: 1}},
		Recover:  breakerrule.RecoverCondition{SleepWindowSeconds: 30, ConsecutiveSuccessCount: 1},
	})

	checker := New(reg, "/", nil)
	defer checker.Stop()

	svc := resource.Service{NS: "ns", Svc: "checkout"}
	checker.Update(svc, []router.Instance{{Host: host, Port: port}})
	checker.checkAll(context.Background())

	if !reg.Check(svc).Pass {
		t.Fatal("expected a healthy probe to leave the breaker closed")
	}
}
