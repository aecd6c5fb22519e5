package client

import (
	"context"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Site is one named server in a multi-site setup.
type Site struct {
	Name string
	Addr string
}

// SiteResult is the answer of a single site. Err is set when the site could
// not be reached or rejected the query.
type SiteResult struct {
	Site   string
	Result *Result
	Err    error
	Took   time.Duration
}

// MultiSite sends the same query to several sites at once.
type MultiSite struct {
	Sites []Site

	// MaxConcurrent bounds the number of sites queried at the same time.
	// Zero means all of them.
	MaxConcurrent int
}

// Query runs request on every site and returns one result per site, sorted
// by site name. A failing site does not fail the others.
func (m *MultiSite) Query(ctx context.Context, request string) []SiteResult {
	results := make([]SiteResult, len(m.Sites))

	p := pool.New()
	if m.MaxConcurrent > 0 {
		p = p.WithMaxGoroutines(m.MaxConcurrent)
	}
	for i, site := range m.Sites {
		p.Go(func() {
			results[i] = querySite(ctx, site, request)
		})
	}
	p.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Site < results[j].Site
	})
	return results
}

func querySite(ctx context.Context, site Site, request string) SiteResult {
	start := time.Now()
	res := SiteResult{Site: site.Name}

	c, err := Dial(ctx, site.Addr)
	if err != nil {
		res.Err = err
		return res
	}
	defer c.Close()

	res.Result, res.Err = c.Query(ctx, request)
	res.Took = time.Since(start)
	return res
}
