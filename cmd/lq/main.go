// Command lq sends queries and external commands to livequery servers.
//
//	lq -s unix:///tmp/livequery.sock 'GET hosts' 'Columns: name state'
//	echo 'GET status' | lq -s tcp://localhost:6557
//	lq --site west=tcp://w:6557 --site east=tcp://e:6557 'GET services' 'Stats: state = 2'
//	lq -s tcp://localhost:6557 --command 'DISABLE_NOTIFICATIONS'
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/coffersTech/livequery/client"
)

type options struct {
	Socket  string            `short:"s" long:"socket" default:"unix:///tmp/livequery.sock" description:"server address, unix:///path or tcp://host:port"`
	Sites   map[string]string `long:"site" key-value-delimiter:"=" description:"name=address of a site to query, repeatable"`
	Command bool              `long:"command" description:"send the arguments as an external command"`
	Timeout time.Duration     `short:"t" long:"timeout" default:"30s" description:"request timeout"`
	JSON    bool              `long:"json" description:"print rows as JSON arrays"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] [request lines...]"
	args, err := parser.Parse()
	if err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	if err := run(opts, args, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "lq:", err)
		os.Exit(1)
	}
}

func run(opts options, args []string, stdin io.Reader, stdout io.Writer) error {
	request := strings.Join(args, "\n")
	if len(args) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return errors.Wrap(err, "read request")
		}
		request = string(data)
	}
	if strings.TrimSpace(request) == "" {
		return errors.New("empty request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	if len(opts.Sites) > 0 {
		if opts.Command {
			return errors.New("--command works with a single --socket")
		}
		return querySites(ctx, opts, request, stdout)
	}

	c, err := client.Dial(ctx, opts.Socket)
	if err != nil {
		return err
	}
	defer c.Close()

	if opts.Command {
		for _, line := range strings.Split(strings.TrimSpace(request), "\n") {
			if err := c.Command(ctx, strings.TrimPrefix(line, "COMMAND ")); err != nil {
				return err
			}
		}
		return nil
	}

	res, err := c.Query(ctx, request)
	if err != nil {
		return err
	}
	return printResult(stdout, res, "", opts.JSON)
}

func querySites(ctx context.Context, opts options, request string, stdout io.Writer) error {
	m := &client.MultiSite{}
	for name, addr := range opts.Sites {
		m.Sites = append(m.Sites, client.Site{Name: name, Addr: addr})
	}

	failed := 0
	for _, r := range m.Query(ctx, request) {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "lq: site %s: %v\n", r.Site, r.Err)
			continue
		}
		if err := printResult(stdout, r.Result, r.Site, opts.JSON); err != nil {
			return err
		}
	}
	if failed == len(m.Sites) {
		return errors.New("no site answered")
	}
	return nil
}

// printResult writes rows tab aligned, or as JSON arrays. Rows of a site
// are prefixed with its name.
func printResult(w io.Writer, res *client.Result, site string, asJSON bool) error {
	if asJSON {
		for _, row := range res.Rows {
			if site != "" {
				row = append([]any{site}, row...)
			}
			b, err := json.Marshal(row)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\n", b)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if len(res.Columns) > 0 {
		cols := res.Columns
		if site != "" {
			cols = append([]string{"site"}, cols...)
		}
		fmt.Fprintln(tw, strings.Join(cols, "\t"))
	}
	for _, row := range res.Rows {
		cells := make([]string, 0, len(row)+1)
		if site != "" {
			cells = append(cells, site)
		}
		for _, v := range row {
			cells = append(cells, format(v))
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func format(v any) string {
	switch v := v.(type) {
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = format(item)
		}
		return strings.Join(parts, ",")
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + format(v[k])
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
