package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hydrz/rdl"
	"github.com/hydrz/rdl/events"
)

var option rdl.Option

func init() {
	option = *rdl.DefaultOptions
}

// createRootCommand mirrors the teacher CLI's single-root-command shape,
// with the media-extraction flags replaced by the byte-range downloader's
// own option set.
func createRootCommand() *cobra.Command {
	var headerFlags []string
	var existFlag string
	var noRedirect bool
	var chunkSize int64

	cmd := &cobra.Command{
		Use:   "rdl <url> [dest]",
		Short: "A resumable, multi-connection HTTP downloader",
		Long:  "rdl - download a file over HTTP/HTTPS, splitting it into byte-range chunks downloaded in parallel and resuming across restarts",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyHeaders(headerFlags); err != nil {
				return err
			}
			applyExistBehavior(existFlag)
			option.FollowRedirect = boolPtr(!noRedirect)
			if chunkSize > 0 {
				option.ChunkSize = rdl.ChunkSizePolicy{Fixed: chunkSize}
			}
			if option.Debug {
				// --debug turns on both the session's own structured
				// logging and resty's wire-level request/response dump.
				option.HTTPOptions.Debug = true
			}
			return run(cmd, args)
		},
	}
	setupFlags(cmd, &headerFlags, &existFlag, &noRedirect, &chunkSize)
	return cmd
}

func boolPtr(b bool) *bool { return &b }

func applyExistBehavior(v string) {
	switch v {
	case "overwrite":
		option.ExistBehavior = rdl.ExistOverwrite
	case "ignore":
		option.ExistBehavior = rdl.ExistIgnore
	default:
		option.ExistBehavior = rdl.ExistNewFile
	}
}

func applyHeaders(headerFlags []string) error {
	if option.HTTPOptions.Headers == nil {
		option.HTTPOptions.Headers = make(http.Header)
	}
	for _, h := range headerFlags {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid header format: %s", h)
		}
		option.HTTPOptions.Headers.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	return nil
}

func setupFlags(cmd *cobra.Command, headerFlags *[]string, existFlag *string, noRedirect *bool, chunkSize *int64) {
	cmd.Flags().IntVarP(&option.Connections, "connections", "n", option.Connections, "Number of concurrent connections")
	cmd.Flags().StringVarP(existFlag, "exist", "e", "new", "Behavior when destination exists: new, overwrite, ignore")
	cmd.Flags().BoolVar(noRedirect, "no-redirect", false, "Do not follow redirects")
	cmd.Flags().Int64Var(chunkSize, "chunk-size", 0, "Fixed chunk size in bytes (0 = automatic)")
	cmd.Flags().IntVarP(&option.MaxRetry, "max-retry", "r", option.MaxRetry, "Max retry attempts per chunk")
	cmd.Flags().DurationVar(&option.RetryDelay, "retry-delay", option.RetryDelay, "Base delay between retries")
	cmd.Flags().DurationVar(&option.RetryBackoff, "retry-backoff", option.RetryBackoff, "Additional backoff per retry attempt")
	cmd.Flags().DurationVar(&option.ReportInterval, "report-interval", option.ReportInterval, "Minimum interval between progress events")
	cmd.Flags().StringArrayVarP(headerFlags, "header", "H", nil, "Custom HTTP header, \"Key: Value\" (repeatable)")
	cmd.Flags().StringVarP(&option.HTTPOptions.Proxy, "proxy", "x", option.HTTPOptions.Proxy, "HTTP proxy URL")
	cmd.Flags().StringVarP(&option.HTTPOptions.Cookie, "cookie", "c", option.HTTPOptions.Cookie, "Netscape cookies.txt file path")
	cmd.Flags().StringVarP(&option.HTTPOptions.UserAgent, "user-agent", "u", option.HTTPOptions.UserAgent, "Custom User-Agent")
	cmd.Flags().StringVarP(&option.HTTPOptions.Method, "method", "X", option.HTTPOptions.Method, "HTTP method for single-request (non-ranged) transfers")
	cmd.Flags().DurationVarP(&option.HTTPOptions.Timeout, "timeout", "t", option.HTTPOptions.Timeout, "Per-request timeout")
	cmd.Flags().BoolVar(&option.HTTPOptions.NoCache, "no-cache", option.HTTPOptions.NoCache, "Disable HTTP response caching of probe requests")
	cmd.Flags().BoolVarP(&option.Debug, "debug", "d", option.Debug, "Enable debug logging")
	cmd.Flags().BoolVarP(&option.Verbose, "verbose", "v", option.Verbose, "Enable verbose logging")
	cmd.Flags().BoolVar(&option.Silent, "silent", option.Silent, "Suppress all output except errors")
}

func run(cmd *cobra.Command, args []string) error {
	url := args[0]
	dest := "."
	if len(args) == 2 {
		dest = args[1]
	}

	d := rdl.New(url, dest, option)

	var bar *progressbar.ProgressBar
	if !option.Silent {
		d.Events().OnMetadata(func(m events.Metadata) {
			bar = progressbar.DefaultBytes(m.Size, "downloading "+shortenURL(url))
		})
		d.Events().OnProgress(func(p events.Progress) {
			if bar != nil {
				bar.Set64(p.Total.Bytes)
			}
		})
		d.Events().OnEnd(func() {
			if bar != nil {
				bar.Finish()
			}
		})
	}

	ctx := cmd.Context()
	go func() {
		<-ctx.Done()
		d.Destroy()
	}()

	ended, err := d.Wait()
	if err != nil {
		return err
	}
	if !ended {
		return fmt.Errorf("download did not complete")
	}
	return nil
}

func shortenURL(u string) string {
	if len(u) <= 40 {
		return u
	}
	return u[:37] + "..."
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := createRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "rdl:", err)
		os.Exit(1)
	}
}
