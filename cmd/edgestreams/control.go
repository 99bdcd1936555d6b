package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/edgestreams/control"
	"github.com/c360/edgestreams/control/natsctl"
	"github.com/c360/edgestreams/natsclient"
)

type controlOptions struct {
	URL     string
	Subject string
	Timeout time.Duration
}

func newControlCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &controlOptions{}

	cmd := &cobra.Command{
		Use:   "control",
		Short: "Send control requests over NATS",
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", "", "NATS URL (defaults to control.nats_url)")
	cmd.PersistentFlags().StringVar(&opts.Subject, "subject", "", "request subject (defaults to control.subject)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Second, "reply timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "send <type> <alias> <op>",
		Short: "Invoke one control operation",
		Example: `  edgestreams control send job JOB_0 pause
  edgestreams control send periodic poll.JOB_0.OP_0 pause`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(rootOpts); err != nil {
				return err
			}
			req := control.Request{Type: args[0], Alias: args[1], Op: args[2]}
			resp, err := sendControl(cmd.Context(), opts, req)
			if err != nil {
				return err
			}
			if rootOpts.Format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(resp)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s:%s %s handled=%t\n", req.Type, req.Alias, req.Op, resp.Handled)
			return err
		},
	})
	return cmd
}

// resolve fills unset flags from the configuration.
func (o *controlOptions) resolve(rootOpts *rootOptions) error {
	if o.URL != "" && o.Subject != "" {
		return nil
	}
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if o.URL == "" {
		o.URL = cfg.Control.NATSURL
	}
	if o.Subject == "" {
		o.Subject = cfg.Control.Subject
	}
	if o.URL == "" {
		return fmt.Errorf("no NATS URL: set --url or control.nats_url")
	}
	if o.Subject == "" {
		o.Subject = natsctl.DefaultSubject
	}
	return nil
}

func sendControl(ctx context.Context, opts *controlOptions, req control.Request) (control.Response, error) {
	var resp control.Response

	client, err := natsclient.NewClient(opts.URL, natsclient.WithTimeout(opts.Timeout), natsclient.WithMaxReconnects(0))
	if err != nil {
		return resp, err
	}
	if err := client.Connect(ctx); err != nil {
		return resp, err
	}
	defer func() { _ = client.Close(context.Background()) }()

	data, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	raw, err := client.Request(ctx, opts.Subject, data)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return resp, fmt.Errorf("decode reply: %w", err)
	}
	return resp, nil
}
