package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/mnemo/internal/app"
	"github.com/ent0n29/mnemo/internal/reliability"
)

const statusAttempts = 4

func NewStatusCommand() *cobra.Command {
	f := NewConfigFlags()
	var (
		serverURL string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report store counts, cache health and recent operation timings",
		Long: `Without --server the command builds the service from the local
configuration and reports directly. With --server it asks a running
instance over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				body []byte
				err  error
			)
			if serverURL != "" {
				body, err = fetchStatus(cmd.Context(), http.DefaultClient, serverURL)
			} else {
				body, err = localStatus(cmd, f)
			}
			if err != nil {
				return err
			}
			return renderStatus(cmd.OutOrStdout(), body, output)
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&serverURL, "server", "", "Base URL of a running mnemo, e.g. http://localhost:8000")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output format; available options are 'yaml' and 'json'")
	return cmd
}

func localStatus(cmd *cobra.Command, f *ConfigFlags) ([]byte, error) {
	cfg, err := f.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	built, err := app.Build(ctx, cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "could not build memory service")
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.WithError(err).Warn("cleanup failed")
		}
	}()

	st, err := built.Service.SystemStatus(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read status")
	}
	return json.Marshal(st)
}

// fetchStatus retries transient HTTP failures with exponential backoff.
func fetchStatus(ctx context.Context, client *http.Client, base string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	url := strings.TrimRight(base, "/") + "/v1/status"

	var lastErr error
	for attempt := 0; attempt < statusAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrap(err, "build status request")
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			log.WithError(err).WithField("attempt", attempt+1).Debug("status request failed")
			continue
		}
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		lastErr = errors.Errorf("status endpoint returned %d: %s", resp.StatusCode, gjson.GetBytes(body, "error").String())
		if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, errors.Wrapf(lastErr, "status unavailable after %d attempts", statusAttempts)
}

func renderStatus(out io.Writer, body []byte, format string) error {
	switch format {
	case "":
		doc := gjson.ParseBytes(body)
		fmt.Fprintf(out, "store=%s conversations=%d messages=%d tool_executions=%d summaries=%d cache=%s\n",
			doc.Get("database.mode").String(),
			doc.Get("database.counts.conversations").Int(),
			doc.Get("database.counts.messages").Int(),
			doc.Get("database.counts.tool_executions").Int(),
			doc.Get("database.counts.summaries").Int(),
			doc.Get("cache.status").String(),
		)
		doc.Get("operations.operations").ForEach(func(_, op gjson.Result) bool {
			fmt.Fprintf(out, "  %-32s samples=%d errors=%d avg=%.1fms p95=%.1fms\n",
				op.Get("operation").String(), op.Get("samples").Int(), op.Get("errors").Int(),
				op.Get("avg_ms").Float(), op.Get("p95_ms").Float())
			return true
		})
		doc.Get("operations.cache").ForEach(func(_, ns gjson.Result) bool {
			fmt.Fprintf(out, "  cache %-26s hits=%d misses=%d ratio=%.2f\n",
				ns.Get("namespace").String(), ns.Get("hits").Int(), ns.Get("misses").Int(), ns.Get("hit_ratio").Float())
			return true
		})
	case "json":
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return errors.Wrap(err, "decode status")
		}
		pretty, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(pretty))
	case "yaml":
		var v map[string]any
		if err := json.Unmarshal(body, &v); err != nil {
			return errors.Wrap(err, "decode status")
		}
		y, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(y))
	default:
		return errors.Errorf("invalid output format: %s", format)
	}
	return nil
}
