package keyspace

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseReplication_Default(t *testing.T) {
	r, err := ParseReplication(DefaultReplication)
	if err != nil {
		t.Fatalf("ParseReplication(DefaultReplication) returned error: %v", err)
	}
	simple, ok := r.(SimpleStrategy)
	if !ok {
		t.Fatalf("expected SimpleStrategy, got %T", r)
	}
	if simple.Factor != 1 {
		t.Fatalf("expected factor 1, got %d", simple.Factor)
	}
}

func TestParseReplication_Simple(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		factor uint8
	}{
		{name: "single quoted", input: "{ 'class': 'SimpleStrategy', 'replication_factor': 3 }", factor: 3},
		{name: "double quoted", input: `{"class": "SimpleStrategy", "replication_factor": "2"}`, factor: 2},
		{name: "unquoted", input: "{class: SimpleStrategy, replication_factor: 0}", factor: 0},
		{name: "surrounding whitespace", input: "  {'class':'SimpleStrategy','replication_factor':255}\n", factor: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ParseReplication(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			simple, ok := r.(SimpleStrategy)
			if !ok {
				t.Fatalf("expected SimpleStrategy, got %T", r)
			}
			if simple.Factor != tt.factor {
				t.Errorf("expected factor %d, got %d", tt.factor, simple.Factor)
			}
		})
	}
}

func TestParseReplication_Network(t *testing.T) {
	r, err := ParseReplication("{ 'class': 'NetworkTopologyStrategy', 'dc1': 3, 'dc2': 5 }")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	network, ok := r.(NetworkTopologyStrategy)
	if !ok {
		t.Fatalf("expected NetworkTopologyStrategy, got %T", r)
	}
	want := map[string]uint8{"dc1": 3, "dc2": 5}
	if len(network.DatacenterFactors) != len(want) {
		t.Fatalf("expected %d datacenters, got %v", len(want), network.DatacenterFactors)
	}
	for dc, factor := range want {
		if got, ok := network.DatacenterFactors[dc]; !ok || got != factor {
			t.Errorf("datacenter %s: expected %d, got %d (present=%v)", dc, factor, got, ok)
		}
	}
}

func TestParseReplication_QuotedSeparators(t *testing.T) {
	_, err := ParseReplication("{'class': 'Foo,Bar:Strategy'}")
	if err == nil {
		t.Fatal("expected error for unsupported class")
	}
	if got, want := err.Error(), "replication class Foo,Bar:Strategy field is an unsupported type"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestParseReplication_Errors(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"you're killing me, smalls", "not a valid keyspace replication object"},
		{"", "not a valid keyspace replication object"},
		{"{not, valid}", "not a valid key-value pair in keyspace replication object"},
		{"{'class': 'SimpleStrategy', }", "not a valid key-value pair in keyspace replication object"},
		{"{'class: 'SimpleStrategy'}", "not a valid key-value pair in keyspace replication object"},
		{"{something: else}", "replication object missing class field"},
		{"{'class': 'FooStrategy'}", "replication class FooStrategy field is an unsupported type"},
		{"{'class': 'SimpleStrategy'}", "replication object missing replication_factor field"},
		{"{'class': 'SimpleStrategy', 'replication_factor': 'abc'}", "replication factor abc must be a number"},
		{"{'class': 'SimpleStrategy', 'replication_factor': 256}", "replication factor 256 must be a number"},
		{"{'class': 'SimpleStrategy', 'replication_factor': -1}", "replication factor -1 must be a number"},
		{"{'class': 'NetworkTopologyStrategy'}", "network replication must specify at least one datacenter's replication factor"},
		{"{'class': 'NetworkTopologyStrategy', 'dc1': 1, 'dc1': 1}", "replication object duplicates key-value pair dc1"},
		{"{'class': 'NetworkTopologyStrategy', 'my datacenter': 3}", "datacenter my datacenter is not a valid name"},
		{"{'class': 'NetworkTopologyStrategy', 'DC1': 3}", "datacenter DC1 is not a valid name"},
		{"{'class': 'NetworkTopologyStrategy', 'dc1': 'three'}", "replication factor dc1 for datacenter three must be a number"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			_, err := ParseReplication(tt.input)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.want)
			}
			if err.Error() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, err.Error())
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("expected error to match ErrConfig")
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestReplication_RoundTripSimple(t *testing.T) {
	for f := 0; f <= 255; f++ {
		original := SimpleStrategy{Factor: uint8(f)}
		input := fmt.Sprintf("{ 'class': 'SimpleStrategy', 'replication_factor': %d }", f)

		parsed, err := ParseReplication(input)
		if err != nil {
			t.Fatalf("factor %d: parse failed: %v", f, err)
		}
		if parsed != original {
			t.Fatalf("factor %d: parsed %v", f, parsed)
		}
		reparsed, err := ParseReplication(parsed.String())
		if err != nil {
			t.Fatalf("factor %d: reparse of %q failed: %v", f, parsed.String(), err)
		}
		if reparsed != original {
			t.Fatalf("factor %d: round trip produced %v", f, reparsed)
		}
	}
}

func TestReplication_RoundTripNetwork(t *testing.T) {
	original := NetworkTopologyStrategy{DatacenterFactors: map[string]uint8{
		"us_east": 3,
		"us_west": 2,
		"eu_1":    0,
		"ap_2":    255,
	}}

	parsed, err := ParseReplication(original.String())
	if err != nil {
		t.Fatalf("parse of %q failed: %v", original.String(), err)
	}
	network, ok := parsed.(NetworkTopologyStrategy)
	if !ok {
		t.Fatalf("expected NetworkTopologyStrategy, got %T", parsed)
	}
	if len(network.DatacenterFactors) != len(original.DatacenterFactors) {
		t.Fatalf("expected %d datacenters, got %d", len(original.DatacenterFactors), len(network.DatacenterFactors))
	}
	for dc, factor := range original.DatacenterFactors {
		if network.DatacenterFactors[dc] != factor {
			t.Errorf("datacenter %s: expected %d, got %d", dc, factor, network.DatacenterFactors[dc])
		}
	}
}

func TestMustParseReplication_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParseReplication("{}")
}
