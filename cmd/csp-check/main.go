package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/projectdiscovery/gologger"

	"github.com/secinto/go-csp-policy/audit"
	"github.com/secinto/go-csp-policy/logging"
	"github.com/secinto/go-csp-policy/policy"
)

const VERSION = "0.2.0"

type options struct {
	URL     string
	Verbose bool
	Version bool
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("csp-check", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.URL, "u", "", "URL of the page to check")
	fs.BoolVar(&opts.Verbose, "v", false, "show fetch details")
	fs.BoolVar(&opts.Version, "version", false, "show version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parsing flags")
	}
	if opts.URL == "" && fs.NArg() > 0 {
		opts.URL = fs.Arg(0)
	}
	if opts.URL == "" && !opts.Version {
		return nil, errors.New("no URL given, use -u <url>")
	}
	return opts, nil
}

func main() {
	options, err := parseOptions(os.Args[1:])
	if err != nil {
		gologger.Fatal().Msgf("Could not parse options: %s\n", err)
	}
	if options.Version {
		gologger.Info().Msgf("csp-check %s", VERSION)
		return
	}

	level := "warn"
	if options.Verbose {
		level = "debug"
	}
	fetcher := audit.NewFetcher(logging.New(logging.FormatCLI, level))

	ok, err := check(context.Background(), fetcher, options.URL, os.Stdout)
	if err != nil {
		gologger.Fatal().Msgf("Could not check %s: %s\n", options.URL, err)
	}
	if !ok {
		gologger.Error().Msgf("%s would block inline content", options.URL)
		os.Exit(1)
	}
	gologger.Info().Msgf("%s passed", options.URL)
}

// check fetches address, prints its policy and the inline elements the
// policy would block, and reports whether there were none.
func check(ctx context.Context, f *audit.Fetcher, address string, w io.Writer) (bool, error) {
	page, err := f.Fetch(ctx, address)
	if err != nil {
		return false, err
	}
	if page.Policy == "" {
		fmt.Fprintf(w, "%s: no Content-Security-Policy\n", page.URL)
		return true, nil
	}

	fmt.Fprintf(w, "%s: policy from %s\n", page.URL, page.Source)
	parsed := policy.ParsePolicy(page.Policy)
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s %s\n", k, parsed[k])
	}

	ok, findings, err := audit.CheckPage(page.Policy, *page.URL, strings.NewReader(page.Body))
	if err != nil {
		return false, err
	}
	for _, fnd := range findings {
		fmt.Fprintf(w, "  [%s] <%s>: %s\n", fnd.DirectiveName, fnd.Element, fnd.Reason)
	}
	return ok, nil
}
