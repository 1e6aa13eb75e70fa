package extract

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/twmb/franz-go/pkg/kgo"
)

func TestRegistry_UnknownDriver(t *testing.T) {
	if _, err := NewClient("no-such-driver"); err == nil {
		t.Fatal("want error for unregistered driver")
	}
}

func TestRegistry_RoundTrip(t *testing.T) {
	marker := newFakeClient()
	Register("registry-test", func() Client { return marker })

	got, err := NewClient("registry-test")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if got != marker {
		t.Fatal("factory result not returned")
	}
}

func TestToHeaderMap(t *testing.T) {
	if toHeaderMap(nil) != nil {
		t.Fatal("empty input must map to nil")
	}
	src := []*sarama.RecordHeader{
		{Key: []byte("trace"), Value: []byte("abc")},
		{Key: []byte("source"), Value: []byte("svc")},
	}
	out := toHeaderMap(src)
	if len(out) != 2 || string(out["trace"]) != "abc" || string(out["source"]) != "svc" {
		t.Fatalf("unexpected map %v", out)
	}
}

func TestFranzHeaderMap(t *testing.T) {
	if franzHeaderMap(nil) != nil {
		t.Fatal("empty input must map to nil")
	}
	src := []kgo.RecordHeader{
		{Key: "trace", Value: []byte("abc")},
	}
	out := franzHeaderMap(src)
	if len(out) != 1 || string(out["trace"]) != "abc" {
		t.Fatalf("unexpected map %v", out)
	}
}
