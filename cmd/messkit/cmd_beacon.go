package main

import (
	"fmt"
	"net/http"

	"messkit/internal/logging"
	"messkit/internal/tracking"

	"github.com/spf13/cobra"
)

func newBeaconCmd(opts *rootOptions) *cobra.Command {
	var billable, size, style, endpoint string
	var kinds []string
	var send, asJSON bool

	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Print (or send) the tracking beacons for a creative",
		Long: `Derives the tracking details for a creative the same way a live unit does
and prints the beacon URL for each event kind.

  messkit beacon --billable mdtn --size 300x250 --style "Spring Sale"

Empty identifiers fall back to the same constants a live unit uses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if billable == "" {
				billable = opts.cfg.Creative.Billable
			}
			if endpoint == "" {
				endpoint = opts.cfg.Creative.TrackingEndpoint
			}

			details := tracking.NewDetails(billable, size, style)
			client := tracking.NewClient(details,
				tracking.WithEndpoint(endpoint),
				tracking.WithTimeout(opts.cfg.Creative.GetBeaconTimeout()),
				tracking.WithDoer(&http.Client{Timeout: opts.cfg.Creative.GetBeaconTimeout()}),
				tracking.WithLogger(logging.Named(opts.logger, "tracking")),
			)

			urls := make(map[string]string, len(kinds))
			for _, k := range kinds {
				kind := tracking.Kind(k)
				if kind != tracking.Impression && kind != tracking.Exit {
					return fmt.Errorf("unknown beacon kind %q (want impression or exit)", k)
				}
				urls[k] = client.BeaconURL(kind)
				if send {
					client.Track(kind)
				}
			}
			if send {
				client.Wait()
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]interface{}{
					"details": details.Params(),
					"beacons": urls,
					"sent":    send,
				})
			}
			fmt.Fprintf(out, "po=%s c=%s\n", details.Billable, details.Creative)
			for _, k := range kinds {
				fmt.Fprintf(out, "%-10s %s\n", k, urls[k])
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&billable, "billable", "", "Billable entity code (defaults to creative.billable)")
	flags.StringVar(&size, "size", "", "Creative size, e.g. 300x250")
	flags.StringVar(&style, "style", "", "Style name, e.g. \"Spring Sale\"")
	flags.StringVar(&endpoint, "endpoint", "", "Tracking endpoint (defaults to creative.tracking_endpoint)")
	flags.StringSliceVar(&kinds, "kind", []string{string(tracking.Impression), string(tracking.Exit)}, "Event kinds to print")
	flags.BoolVar(&send, "send", false, "Also dispatch each beacon once")
	flags.BoolVar(&asJSON, "json", false, "Print JSON instead of text")
	return cmd
}
