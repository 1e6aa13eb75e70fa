package forward

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"conductor/extract"
	"conductor/sink"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
)

type Config struct {
	URL     string
	Method  string
	Headers map[string]string
}

// driver forwards each record body to an HTTP endpoint, retrying non-2xx
// responses a bounded number of times.
type driver struct {
	cfg      Config
	attempts int
	backoff  time.Duration
	client   *http.Client
}

func (d *driver) Process(ctx context.Context, r *extract.Record) error {
	var lastErr error
	for attempt := 0; attempt < d.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d.backoff):
			}
		}
		lastErr = d.send(ctx, r)
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("forwarder: giving up after %d attempts: %w", d.attempts, lastErr)
}

func (d *driver) send(ctx context.Context, r *extract.Record) error {
	req, err := http.NewRequestWithContext(ctx, d.cfg.Method, d.cfg.URL, bytes.NewReader(r.Value))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("forwarder: %s %s returned %d", d.cfg.Method, d.cfg.URL, resp.StatusCode)
	}
	return nil
}

func (d *driver) Close() error {
	d.client.CloseIdleConnections()
	return nil
}

/*──────── auto-register ───────*/
func init() {
	sink.Register("streaming_forwarder", func(config map[string]any) (sink.Adapter, error) {
		url, err := sink.StringField(config, "url")
		if err != nil {
			return nil, err
		}
		method, err := sink.OptStringField(config, "method", http.MethodPost)
		if err != nil {
			return nil, err
		}
		headers := map[string]string{}
		if raw, ok := config["headers"]; ok {
			m, ok := raw.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q must be an object", sink.ErrBadConfig, "headers")
			}
			for k, v := range m {
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("%w: header %q must be a string", sink.ErrBadConfig, k)
				}
				headers[k] = s
			}
		}
		return &driver{
			cfg:      Config{URL: url, Method: method, Headers: headers},
			attempts: defaultAttempts,
			backoff:  defaultBackoff,
			client:   &http.Client{Timeout: 10 * time.Second},
		}, nil
	})
}
