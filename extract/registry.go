package extract

import "fmt"

// Factory builds a Client (e.g., SaramaClient, FranzClient, …).
type Factory func() Client

var registry = map[string]Factory{}

// Register is called from each driver's init() or main() factory map.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewClient returns a driver by name ("sarama", "franz", …).
func NewClient(name string) (Client, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("extract: unsupported driver %q", name)
}
