package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ent0n29/mnemo/internal/cache"
	"github.com/ent0n29/mnemo/internal/config"
)

func NewCacheCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the Redis read cache",
	}
	cmd.AddCommand(newCacheClearCommand())
	return cmd
}

func newCacheClearCommand() *cobra.Command {
	f := NewConfigFlags()
	var pattern string

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete cached entries matching a key glob so the next reads hit the database",
		Example: `  mnemo cache clear --pattern 'search:*'
  mnemo cache clear --pattern 'conversation:conv_*:messages'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return clearCache(cmd.OutOrStdout(), cfg, pattern)
		},
	}

	f.BindFlags(cmd.Flags())
	cmd.Flags().StringVar(&pattern, "pattern", "", "Key glob to delete, without the configured key prefix")
	_ = cmd.MarkFlagRequired("pattern")
	return cmd
}

func clearCache(out io.Writer, cfg config.Config, pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("pattern must not be empty")
	}
	c := cache.New(cache.Config{
		URL:         cfg.RedisURL,
		KeyPrefix:   cfg.RedisKeyPrefix,
		DialTimeout: cfg.RedisDialTimeout,
		IOTimeout:   cfg.RedisIOTimeout,
	})
	defer c.Close()
	if c.Status() != cache.StatusConnected {
		return errors.Errorf("cache is %s", c.Status())
	}

	n, err := c.ClearPattern(pattern)
	if err != nil {
		return errors.Wrapf(err, "could not clear %q", pattern)
	}
	fmt.Fprintf(out, "deleted %d keys matching %s\n", n, pattern)
	return nil
}
