package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/httputil"
)

var client httputil.HTTPClient = &http.Client{Timeout: 10 * time.Second}

// runTotals prints the totals of a running instance.
func runTotals(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("totals", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Base URL of a running crossing instance")
	scope := fs.String("scope", "live", "live or lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	endpoint := *addr + "/api/totals?scope=" + url.QueryEscape(*scope)
	ctx := context.Background()

	var totals map[string]aggregate.Totals
	if *scope == "lifetime" {
		var resp struct {
			Data struct {
				Sources map[string]aggregate.Totals `json:"sources"`
			} `json:"data"`
		}
		if err := httputil.GetJSON(ctx, client, endpoint, &resp); err != nil {
			return err
		}
		totals = resp.Data.Sources
	} else if err := httputil.GetJSON(ctx, client, endpoint, &totals); err != nil {
		return err
	}

	printTotals(out, totals)
	return nil
}

func printTotals(out io.Writer, totals map[string]aggregate.Totals) {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFORWARD\tBACKWARD\tTOTAL")
	var sum aggregate.Totals
	for _, id := range ids {
		t := totals[id]
		sum.Forward += t.Forward
		sum.Backward += t.Backward
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", id, t.Forward, t.Backward, t.Sum())
	}
	fmt.Fprintf(tw, "ALL\t%d\t%d\t%d\n", sum.Forward, sum.Backward, sum.Sum())
	tw.Flush()
}

// runRestart asks a running instance to relaunch one source worker.
func runRestart(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Base URL of a running crossing instance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: crossing restart [-addr URL] <source_id>")
	}
	id := fs.Arg(0)

	endpoint := *addr + "/api/sources/" + url.PathEscape(id) + "/restart"
	if err := httputil.PostJSON(context.Background(), client, endpoint, nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "source %s restarted\n", id)
	return nil
}
