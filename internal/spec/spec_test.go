package spec

import (
	"errors"
	"testing"
)

func valid() ConsumerSpec {
	return ConsumerSpec{
		BrokerHost: "localhost",
		BrokerPort: 9092,
		Topic:      "t",
		GroupID:    "g",
	}
}

func TestConsumerSpec_Validate(t *testing.T) {
	s := valid()
	if err := s.Validate(); err != nil {
		t.Fatalf("valid draft rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*ConsumerSpec)
	}{
		{"missing host", func(s *ConsumerSpec) { s.BrokerHost = "" }},
		{"port zero", func(s *ConsumerSpec) { s.BrokerPort = 0 }},
		{"port too big", func(s *ConsumerSpec) { s.BrokerPort = 70000 }},
		{"missing topic", func(s *ConsumerSpec) { s.Topic = "" }},
		{"missing group", func(s *ConsumerSpec) { s.GroupID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := valid()
			tc.mutate(&s)
			if err := s.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("want ErrInvalid, got %v", err)
			}
		})
	}
}

func TestPatch_Validate(t *testing.T) {
	empty := ""
	badPort := 0
	ok := "fine"

	if err := (&Patch{}).Validate(); err != nil {
		t.Fatalf("empty patch rejected: %v", err)
	}
	if err := (&Patch{Topic: &ok}).Validate(); err != nil {
		t.Fatalf("valid patch rejected: %v", err)
	}
	if err := (&Patch{BrokerHost: &empty}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid for empty host, got %v", err)
	}
	if err := (&Patch{BrokerPort: &badPort}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid for port 0, got %v", err)
	}
}

func TestPatch_Empty(t *testing.T) {
	if !(&Patch{}).Empty() {
		t.Fatal("zero patch must be empty")
	}
	topic := "t"
	if (&Patch{Topic: &topic}).Empty() {
		t.Fatal("patch with a field must not be empty")
	}
}

func TestBrokerAddr(t *testing.T) {
	s := valid()
	if got := s.BrokerAddr(); got != "localhost:9092" {
		t.Fatalf("addr %q", got)
	}
}

func TestClone_Independence(t *testing.T) {
	s := valid()
	s.Processors = []ProcessorConfig{
		{ID: "p0", Type: "file_sink", Config: map[string]any{"file_path": "/tmp/a"}},
	}

	cp := s.Clone()
	cp.Processors[0].Config["file_path"] = "/tmp/b"
	cp.Processors[0].Type = "database_sync"

	if s.Processors[0].Config["file_path"] != "/tmp/a" {
		t.Fatal("clone shares config map with original")
	}
	if s.Processors[0].Type != "file_sink" {
		t.Fatal("clone shares processor slice with original")
	}
}
