package resource

import "testing"

func TestLevelOrdering(t *testing.T) {
	svc := Service{NS: "prod", Svc: "checkout"}
	method := Method{NS: "prod", Svc: "checkout", Name: "Pay"}
	subset := Subset{NS: "prod", Svc: "checkout", Name: "canary"}
	inst := Instance{NS: "prod", Svc: "checkout", Host: "10.0.0.1", Port: 9090}

	cases := []struct {
		name string
		res  Resource
		want Level
	}{
		{"service", svc, LevelService},
		{"method", method, LevelMethod},
		{"subset", subset, LevelSubset},
		{"instance", inst, LevelInstance},
	}
	for _, c := range cases {
		if got := c.res.Level(); got != c.want {
			t.Errorf("%s: Level() = %v, want %v", c.name, got, c.want)
		}
		if c.res.Namespace() != "prod" || c.res.Service() != "checkout" {
			t.Errorf("%s: Namespace/Service mismatch: %q/%q", c.name, c.res.Namespace(), c.res.Service())
		}
	}
}

func TestKeyIsStableAndDistinguishesVariants(t *testing.T) {
	a := Subset{NS: "prod", Svc: "checkout", Name: "canary", Metadata: map[string]string{"version": "v2"}}
	b := Subset{NS: "prod", Svc: "checkout", Name: "canary", Metadata: map[string]string{"version": "v2"}}
	if a.Key() != b.Key() {
		t.Errorf("equal subsets produced different keys: %q vs %q", a.Key(), b.Key())
	}

	c := Subset{NS: "prod", Svc: "checkout", Name: "canary", Metadata: map[string]string{"version": "v3"}}
	if a.Key() == c.Key() {
		t.Errorf("subsets with different metadata produced the same key: %q", a.Key())
	}

	svc := Service{NS: "prod", Svc: "checkout"}
	if svc.Key() == a.Key() {
		t.Error("Service and Subset keys collided")
	}
}

func TestCanonicalMetadataOrderIndependence(t *testing.T) {
	a := Subset{NS: "ns", Svc: "svc", Name: "n", Metadata: map[string]string{"a": "1", "b": "2"}}
	b := Subset{NS: "ns", Svc: "svc", Name: "n", Metadata: map[string]string{"b": "2", "a": "1"}}
	if a.Key() != b.Key() {
		t.Errorf("metadata map iteration order changed the key: %q vs %q", a.Key(), b.Key())
	}
}

func TestServiceKeyString(t *testing.T) {
	k := ServiceKey{Namespace: "prod", Svc: "checkout"}
	if k.String() != "prod/checkout" {
		t.Errorf("String() = %q, want %q", k.String(), "prod/checkout")
	}
}
