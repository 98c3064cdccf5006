package mastodon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"syncq/internal/domain"
)

type account struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
	Avatar      string `json:"avatar"`
}

type attachment struct {
	URL string `json:"url"`
}

type status struct {
	ID          string       `json:"id"`
	URL         string       `json:"url"`
	Content     string       `json:"content"`
	CreatedAt   time.Time    `json:"created_at"`
	InReplyToID string       `json:"in_reply_to_id"`
	Favourited  bool         `json:"favourited"`
	Reblogged   bool         `json:"reblogged"`
	Account     account      `json:"account"`
	Media       []attachment `json:"media_attachments"`
}

type notification struct {
	Type   string  `json:"type"`
	Status *status `json:"status"`
}

type relationship struct {
	ID        string `json:"id"`
	Following bool   `json:"following"`
}

func (c *Client) actor(a account) domain.Actor {
	return domain.Actor{
		OID:         a.ID,
		Origin:      c.base,
		Username:    a.Acct,
		DisplayName: a.DisplayName,
		URL:         a.URL,
		AvatarURL:   a.Avatar,
	}
}

func (c *Client) note(s status) domain.Note {
	n := domain.Note{
		OID:       s.ID,
		Origin:    c.base,
		Author:    c.actor(s.Account),
		Content:   s.Content,
		URL:       s.URL,
		InReplyTo: s.InReplyToID,
		CreatedAt: s.CreatedAt.UTC(),
		Favorited: s.Favourited,
		Reblogged: s.Reblogged,
	}
	for _, m := range s.Media {
		n.Attachments = append(n.Attachments, m.URL)
	}
	return n
}

func (c *Client) notes(list []status) []domain.Note {
	out := make([]domain.Note, 0, len(list))
	for _, s := range list {
		out = append(out, c.note(s))
	}
	return out
}

func (c *Client) pageQuery(page domain.TimelinePage) url.Values {
	q := url.Values{}
	limit := page.Limit
	if limit <= 0 {
		limit = c.opts.PageLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if page.Since != "" {
		q.Set("since_id", page.Since)
	}
	if page.Until != "" {
		q.Set("max_id", page.Until)
	}
	return q
}

func notSupported(format string, args ...any) error {
	return domain.NewConnectionError(domain.KindNotSupported, 0, fmt.Errorf(format, args...))
}

func (c *Client) GetTimeline(ctx context.Context, tl domain.Timeline, page domain.TimelinePage) ([]domain.Note, error) {
	q := c.pageQuery(page)
	var path string
	switch tl.Type {
	case domain.TimelineHome:
		path = "/api/v1/timelines/home"
	case domain.TimelinePublic, domain.TimelineEverything:
		path = "/api/v1/timelines/public"
	case domain.TimelineDirect:
		path = "/api/v1/timelines/direct"
	case domain.TimelineFavorites:
		path = "/api/v1/favourites"
	case domain.TimelineSent:
		if tl.ActorID == "" {
			return nil, notSupported("sent timeline without actor")
		}
		path = "/api/v1/accounts/" + url.PathEscape(tl.ActorID) + "/statuses"
	case domain.TimelineMentions:
		q.Add("types[]", "mention")
		var list []notification
		if _, err := c.getJSON(ctx, "/api/v1/notifications", q, &list); err != nil {
			return nil, err
		}
		out := make([]domain.Note, 0, len(list))
		for _, n := range list {
			if n.Status != nil {
				out = append(out, c.note(*n.Status))
			}
		}
		return out, nil
	case domain.TimelineSearch:
		if tl.Search == "" {
			return nil, notSupported("search timeline without query")
		}
		q.Set("q", tl.Search)
		q.Set("type", "statuses")
		var res struct {
			Statuses []status `json:"statuses"`
		}
		if _, err := c.getJSON(ctx, "/api/v2/search", q, &res); err != nil {
			return nil, err
		}
		return c.notes(res.Statuses), nil
	default:
		return nil, notSupported("timeline %s", tl.Type)
	}

	var list []status
	if _, err := c.getJSON(ctx, path, q, &list); err != nil {
		return nil, err
	}
	return c.notes(list), nil
}

func (c *Client) GetActors(ctx context.Context, tl domain.Timeline, limit int) ([]domain.Actor, error) {
	if tl.ActorID == "" {
		return nil, notSupported("%s timeline without actor", tl.Type)
	}
	var rel string
	switch tl.Type {
	case domain.TimelineFollowers:
		rel = "followers"
	case domain.TimelineFriends:
		rel = "following"
	default:
		return nil, notSupported("actors of timeline %s", tl.Type)
	}
	if limit <= 0 {
		limit = c.opts.PageLimit
	}
	var list []account
	path := "/api/v1/accounts/" + url.PathEscape(tl.ActorID) + "/" + rel
	if _, err := c.getJSON(ctx, path, url.Values{"limit": {strconv.Itoa(limit)}}, &list); err != nil {
		return nil, err
	}
	out := make([]domain.Actor, 0, len(list))
	for _, a := range list {
		act := c.actor(a)
		act.Following = tl.Type == domain.TimelineFriends
		out = append(out, act)
	}
	return out, nil
}

func (c *Client) GetNote(ctx context.Context, oid string) (domain.Note, error) {
	var s status
	if _, err := c.getJSON(ctx, "/api/v1/statuses/"+url.PathEscape(oid), nil, &s); err != nil {
		return domain.Note{}, err
	}
	return c.note(s), nil
}

func (c *Client) GetActor(ctx context.Context, oid string) (domain.Actor, error) {
	var a account
	if _, err := c.getJSON(ctx, "/api/v1/accounts/"+url.PathEscape(oid), nil, &a); err != nil {
		return domain.Actor{}, err
	}
	return c.actor(a), nil
}

// UpdateNote publishes a new note, or edits it when it already has a remote id.
func (c *Client) UpdateNote(ctx context.Context, n domain.Note) (domain.Note, error) {
	body := map[string]string{"status": n.Content}
	if n.InReplyTo != "" {
		body["in_reply_to_id"] = n.InReplyTo
	}
	method, path := http.MethodPost, "/api/v1/statuses"
	if n.OID != "" {
		method, path = http.MethodPut, "/api/v1/statuses/"+url.PathEscape(n.OID)
	}
	var s status
	if err := c.postJSON(ctx, method, path, body, &s); err != nil {
		return domain.Note{}, err
	}
	return c.note(s), nil
}

func (c *Client) DeleteNote(ctx context.Context, oid string) error {
	return c.postJSON(ctx, http.MethodDelete, "/api/v1/statuses/"+url.PathEscape(oid), nil, nil)
}

func (c *Client) statusAction(ctx context.Context, oid, action string) (domain.Note, error) {
	var s status
	if err := c.postJSON(ctx, http.MethodPost, "/api/v1/statuses/"+url.PathEscape(oid)+"/"+action, nil, &s); err != nil {
		return domain.Note{}, err
	}
	return c.note(s), nil
}

func (c *Client) Like(ctx context.Context, oid string, like bool) (domain.Note, error) {
	if like {
		return c.statusAction(ctx, oid, "favourite")
	}
	return c.statusAction(ctx, oid, "unfavourite")
}

func (c *Client) Announce(ctx context.Context, oid string, announce bool) (domain.Note, error) {
	if announce {
		return c.statusAction(ctx, oid, "reblog")
	}
	return c.statusAction(ctx, oid, "unreblog")
}

func (c *Client) Follow(ctx context.Context, actorOID string, follow bool) (domain.Actor, error) {
	action := "unfollow"
	if follow {
		action = "follow"
	}
	var rel relationship
	path := "/api/v1/accounts/" + url.PathEscape(actorOID) + "/" + action
	if err := c.postJSON(ctx, http.MethodPost, path, nil, &rel); err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{OID: actorOID, Origin: c.base, Following: rel.Following}, nil
}

// RateLimitStatus reads the rate limit headers of a credentials check.
func (c *Client) RateLimitStatus(ctx context.Context) (domain.RateLimit, error) {
	var a account
	resp, err := c.getJSON(ctx, "/api/v1/accounts/verify_credentials", nil, &a)
	if err != nil {
		return domain.RateLimit{}, err
	}
	var rl domain.RateLimit
	if v := resp.header.Get("X-RateLimit-Limit"); v != "" {
		rl.Limit, _ = strconv.Atoi(v)
	}
	if v := resp.header.Get("X-RateLimit-Remaining"); v != "" {
		rl.Remaining, _ = strconv.Atoi(v)
	}
	if v := resp.header.Get("X-RateLimit-Reset"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			rl.ResetAt = t.UTC()
		}
	}
	return rl, nil
}

// GetOpenInstances lists open instances from the configured directory.
func (c *Client) GetOpenInstances(ctx context.Context) ([]domain.Origin, error) {
	if c.opts.InstancesURL == "" {
		return nil, notSupported("no instances directory configured")
	}
	var res struct {
		Instances []struct {
			Name  string `json:"name"`
			Users string `json:"users"`
		} `json:"instances"`
	}
	q := url.Values{"include_closed": {"false"}, "count": {"0"}}
	if _, err := c.getJSON(ctx, c.opts.InstancesURL, q, &res); err != nil {
		return nil, err
	}
	out := make([]domain.Origin, 0, len(res.Instances))
	for _, in := range res.Instances {
		if in.Name == "" {
			continue
		}
		users, _ := strconv.ParseInt(in.Users, 10, 64)
		out = append(out, domain.Origin{Name: in.Name, URL: "https://" + in.Name, Users: users})
	}
	return out, nil
}

// Download fetches a media file and returns its content and content type.
func (c *Client) Download(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return nil, "", domain.NewConnectionError(domain.KindNotFound, 0, errors.Join(fmt.Errorf("bad media url %q", rawURL), err))
	}
	resp, err := c.do(ctx, request{method: http.MethodGet, path: rawURL})
	if err != nil {
		return nil, "", err
	}
	return resp.body, resp.header.Get("Content-Type"), nil
}
