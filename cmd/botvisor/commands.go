package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/loykin/botvisor/pkg/client"
)

const defaultAPIUrl = "http://localhost:5000/api"

type command struct {
	out io.Writer
}

func (c command) apiClient(f APIFlags) *client.Client {
	url := f.APIUrl
	if url == "" {
		url = defaultAPIUrl
	}
	return client.New(client.Config{BaseURL: url, Timeout: f.APITimeout})
}

func (c command) ctx(f APIFlags) (context.Context, context.CancelFunc) {
	if f.APITimeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), f.APITimeout)
}

// List prints one row per bot: index, name, state, pid and path.
func (c command) List(f APIFlags) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	bots, err := c.apiClient(f).List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "INDEX\tNAME\tSTATE\tPID\tPATH")
	for i, b := range bots {
		state, pid := "stopped", "-"
		if b.Running {
			state = "running"
		}
		if b.PID != nil {
			pid = fmt.Sprint(*b.PID)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", i, b.Name, state, pid, b.Path)
	}
	return tw.Flush()
}

func (c command) Add(f AddFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	r, err := c.apiClient(f.APIFlags).Add(ctx, f.Path)
	if err != nil {
		return err
	}
	printJSON(c.out, r)
	return nil
}

func (c command) Start(f IndexFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	return c.report(c.apiClient(f.APIFlags).Start(ctx, f.Index))
}

func (c command) Stop(f IndexFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	return c.report(c.apiClient(f.APIFlags).Stop(ctx, f.Index))
}

func (c command) Delete(f IndexFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	return c.report(c.apiClient(f.APIFlags).Delete(ctx, f.Index))
}

func (c command) Logs(f LogsFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	cl := c.apiClient(f.APIFlags)
	if f.Raw {
		entries, err := cl.Logs(ctx)
		if err != nil {
			return err
		}
		printJSON(c.out, entries)
		return nil
	}
	lines, err := cl.LogLines(ctx)
	if err != nil {
		return err
	}
	for _, l := range lines {
		_, _ = fmt.Fprintln(c.out, l)
	}
	return nil
}

func (c command) report(r client.Response, err error) error {
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(c.out, r.Message)
	return nil
}
