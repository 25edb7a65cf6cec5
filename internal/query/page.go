package query

// Page is the list response envelope.
type Page struct {
	Items    []map[string]any `json:"items"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
	Pages    int              `json:"pages"`
	NextPage *int             `json:"next_page"`
	PrevPage *int             `json:"prev_page"`
}

// Result wraps items fetched for d. total is the count over the filtered,
// unpaged query.
func (d Descriptor) Result(items []map[string]any, total int64) Page {
	if items == nil {
		items = []map[string]any{}
	}
	if !d.Paginate {
		p := Page{Items: items, Total: total, Page: 1, Limit: len(items)}
		if len(items) > 0 {
			p.Pages = 1
		}
		return p
	}

	p := Page{Items: items, Total: total, Page: d.Page, Limit: d.Limit}
	p.Pages = int((total + int64(d.Limit) - 1) / int64(d.Limit))
	if d.Page < p.Pages {
		n := d.Page + 1
		p.NextPage = &n
	}
	if d.Page > 1 {
		n := d.Page - 1
		p.PrevPage = &n
	}
	return p
}
