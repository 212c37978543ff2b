package representer

import (
	"net/url"
	"sort"
	"strconv"

	"github.com/psantana5/tracker/pkg/models"
)

// Paging carries the raw page parameters of a collection request
type Paging struct {
	Page    int
	PerPage int
}

// Group is one bucket of a grouped listing
type Group struct {
	Value interface{} `json:"value"`
	Count int         `json:"count"`
}

// CollectionOptions configures an offset paginated collection
type CollectionOptions struct {
	Query     map[string]string
	Paging    Paging
	Settings  models.Settings
	Groups    []Group // nil when the listing is not grouped
	TotalSums map[string]interface{}
}

// Collection is the HAL body of an offset paginated collection
type Collection struct {
	Type      string                 `json:"_type"`
	Total     int                    `json:"total"`
	Count     int                    `json:"count"`
	PageSize  int                    `json:"pageSize"`
	Offset    int                    `json:"offset"`
	Groups    *[]Group               `json:"groups,omitempty"`
	TotalSums map[string]interface{} `json:"totalSums,omitempty"`
	Links     Links                  `json:"_links"`
	Embedded  collectionEmbedded     `json:"_embedded"`
}

type collectionEmbedded struct {
	Elements []interface{} `json:"elements"`
}

// OffsetPaginatedCollection slices elements into the requested page.
// The offset parameter is a page number starting at 1.
type OffsetPaginatedCollection struct {
	selfLink string
	query    map[string]string
	page     int
	perPage  int
	total    int
	opts     CollectionOptions
}

// NewOffsetPaginatedCollection normalizes the paging parameters against the settings
func NewOffsetPaginatedCollection(selfLink string, total int, opts CollectionOptions) *OffsetPaginatedCollection {
	page := opts.Paging.Page
	if page <= 0 {
		page = 1
	}
	return &OffsetPaginatedCollection{
		selfLink: selfLink,
		query:    opts.Query,
		page:     page,
		perPage:  ResultingPageSize(opts.Paging.PerPage, opts.Settings),
		total:    total,
		opts:     opts,
	}
}

// ResultingPageSize falls back to the default page size and caps it at the API maximum
func ResultingPageSize(requested int, settings models.Settings) int {
	size := requested
	if size <= 0 {
		size = settings.DefaultPageSize()
	}
	if settings.APIMaxPageSize > 0 && size > settings.APIMaxPageSize {
		size = settings.APIMaxPageSize
	}
	return size
}

// Page returns the normalized page number
func (c *OffsetPaginatedCollection) Page() int { return c.page }

// PerPage returns the normalized page size
func (c *OffsetPaginatedCollection) PerPage() int { return c.perPage }

// pages is the number of non-empty pages
func (c *OffsetPaginatedCollection) pages() int {
	n := c.total / c.perPage
	if c.total%c.perPage != 0 {
		n++
	}
	return n
}

// Bounds returns the slice bounds of the current page within total elements.
// Pages past the last one are empty.
func (c *OffsetPaginatedCollection) Bounds() (int, int) {
	if c.page > c.pages() {
		return c.total, c.total
	}
	start := (c.page - 1) * c.perPage
	end := c.total
	if c.total-start > c.perPage {
		end = start + c.perPage
	}
	return start, end
}

// Render builds the collection body around the elements of the current page
func (c *OffsetPaginatedCollection) Render(elements []interface{}) *Collection {
	if elements == nil {
		elements = []interface{}{}
	}
	links := Links{
		"self":       {Href: c.link(map[string]string{"offset": strconv.Itoa(c.page), "pageSize": strconv.Itoa(c.perPage)})},
		"jumpTo":     {Href: c.link(map[string]string{"offset": "{offset}", "pageSize": strconv.Itoa(c.perPage)}), Templated: true},
		"changeSize": {Href: c.link(map[string]string{"offset": strconv.Itoa(c.page), "pageSize": "{size}"}), Templated: true},
	}
	if c.page > 1 {
		links["previousByOffset"] = &Link{Href: c.link(map[string]string{"offset": strconv.Itoa(c.page - 1), "pageSize": strconv.Itoa(c.perPage)})}
	}
	if c.page < c.pages() {
		links["nextByOffset"] = &Link{Href: c.link(map[string]string{"offset": strconv.Itoa(c.page + 1), "pageSize": strconv.Itoa(c.perPage)})}
	}

	coll := &Collection{
		Type:      "Collection",
		Total:     c.total,
		Count:     len(elements),
		PageSize:  c.perPage,
		Offset:    c.page,
		TotalSums: c.opts.TotalSums,
		Links:     links,
		Embedded:  collectionEmbedded{Elements: elements},
	}
	// A grouped listing without results still reports its empty groups.
	if c.opts.Groups != nil {
		groups := c.opts.Groups
		coll.Groups = &groups
	}
	return coll
}

// link merges the query with paging parameters, sorting keys.
// Template placeholders are kept unescaped.
func (c *OffsetPaginatedCollection) link(paging map[string]string) string {
	merged := make(map[string]string, len(c.query)+len(paging))
	for k, v := range c.query {
		merged[k] = v
	}
	for k, v := range paging {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := c.selfLink
	for i, k := range keys {
		if i == 0 {
			out += "?"
		} else {
			out += "&"
		}
		v := merged[k]
		if v == "{offset}" || v == "{size}" {
			out += url.QueryEscape(k) + "=" + v
			continue
		}
		out += url.QueryEscape(k) + "=" + url.QueryEscape(v)
	}
	return out
}
