package config

import (
	"fmt"
	"net/url"

	"github.com/loykin/previewd/internal/history"
	chnative "github.com/loykin/previewd/internal/history/clickhouse"
)

// BuildSinks instantiates every configured history sink.
func (c *Config) BuildSinks() ([]history.Sink, error) {
	sinks := make([]history.Sink, 0, len(c.History))
	for i, h := range c.History {
		switch h.Type {
		case "clickhouse-http":
			if h.URL == "" || h.Table == "" {
				return nil, fmt.Errorf("history[%d]: clickhouse-http requires url and table", i)
			}
			if _, err := url.Parse(h.URL); err != nil {
				return nil, fmt.Errorf("history[%d]: invalid url %q: %w", i, h.URL, err)
			}
			sinks = append(sinks, history.NewClickHouseSink(h.URL, h.Table))
		case "clickhouse":
			if h.DSN == "" || h.Table == "" {
				return nil, fmt.Errorf("history[%d]: clickhouse requires dsn and table", i)
			}
			s, err := chnative.New(h.DSN, h.Table)
			if err != nil {
				return nil, fmt.Errorf("history[%d]: %w", i, err)
			}
			sinks = append(sinks, s)
		case "opensearch":
			if h.URL == "" || h.Index == "" {
				return nil, fmt.Errorf("history[%d]: opensearch requires url and index", i)
			}
			sinks = append(sinks, history.NewOpenSearchSink(h.URL, h.Index))
		default:
			return nil, fmt.Errorf("history[%d]: unknown type %q", i, h.Type)
		}
	}
	return sinks, nil
}
