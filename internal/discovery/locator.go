package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"conveyor/internal/fault"
	"conveyor/internal/logging"
	"conveyor/internal/telemetry"
)

const (
	DefaultPrefix  = "/brokers/ids/"
	DefaultBackoff = 8000 * time.Millisecond
)

// Locator resolves live broker endpoints from the coordination service.
// Topology may change after failover, so every call opens a fresh short-lived
// client and nothing is cached.
type Locator struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	Backoff     time.Duration
}

// brokerEntry is the JSON registration format; brokers may also register a raw
// "host:port" string.
type brokerEntry struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Brokers returns the currently registered broker endpoints. Zero
// registrations is a recoverable condition: registration is eventually
// consistent after cluster startup or leader failover.
func (l *Locator) Brokers(ctx context.Context) ([]string, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   l.Endpoints,
		DialTimeout: l.dialTimeout(),
		Context:     ctx,
	})
	if err != nil {
		telemetry.BrokerLookups.WithLabelValues("error").Inc()
		return nil, fault.Wrap(fault.Unavailable, fmt.Errorf("coordination service dial: %w", err))
	}
	defer cli.Close()

	resp, err := cli.Get(ctx, l.prefix(), clientv3.WithPrefix())
	if err != nil {
		telemetry.BrokerLookups.WithLabelValues("error").Inc()
		return nil, fault.Wrap(fault.Unavailable, fmt.Errorf("list brokers at %q: %w", l.prefix(), err))
	}

	var out []string
	for _, kv := range resp.Kvs {
		if ep, ok := parseRegistration(kv.Value); ok {
			out = append(out, ep)
		}
	}
	if len(out) == 0 {
		telemetry.BrokerLookups.WithLabelValues("empty").Inc()
		return nil, fault.New(fault.Unavailable, "no brokers registered under %q", l.prefix())
	}
	sort.Strings(out)
	telemetry.BrokerLookups.WithLabelValues("ok").Inc()
	return out, nil
}

// WaitBrokers retries Brokers with the configured backoff until endpoints
// appear, a fatal error occurs, or ctx is cancelled.
func (l *Locator) WaitBrokers(ctx context.Context) ([]string, error) {
	log := logging.Named("locator")
	for {
		brokers, err := l.Brokers(ctx)
		if err == nil {
			return brokers, nil
		}
		if !fault.IsRecoverable(err) {
			return nil, err
		}
		log.Warn("broker discovery failed, backing off", "err", err, "backoff", l.backoff())
		select {
		case <-time.After(l.backoff()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func parseRegistration(val []byte) (string, bool) {
	s := strings.TrimSpace(string(val))
	if s == "" {
		return "", false
	}
	if s[0] == '{' {
		var e brokerEntry
		if err := json.Unmarshal(val, &e); err != nil || e.Host == "" {
			return "", false
		}
		return fmt.Sprintf("%s:%d", e.Host, e.Port), true
	}
	if !strings.Contains(s, ":") {
		return "", false
	}
	return s, true
}

func (l *Locator) prefix() string {
	if l.Prefix == "" {
		return DefaultPrefix
	}
	return l.Prefix
}

func (l *Locator) dialTimeout() time.Duration {
	if l.DialTimeout == 0 {
		return 5 * time.Second
	}
	return l.DialTimeout
}

func (l *Locator) backoff() time.Duration {
	if l.Backoff == 0 {
		return DefaultBackoff
	}
	return l.Backoff
}
