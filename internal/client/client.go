package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNoItem is returned when the server refused to add an item.
var ErrNoItem = errors.New("no item added")

const (
	HeaderItem = "X-Repeater-Item"
	HeaderUser = "X-Repeater-User"
)

// Client talks to a repeater server on behalf of one user.
type Client struct {
	BaseURL string
	UserID  int64
	HTTP    *http.Client
	// Timeout bounds each round trip. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.UserID != 0 {
		req.Header.Set(HeaderUser, strconv.FormatInt(c.UserID, 10))
	}
	return c.httpClient().Do(req.WithContext(ctx))
}

// Add asks the server for one item for list and appends it. On any failure
// the list is left as it was.
func (c *Client) Add(ctx context.Context, hostID, fieldID int64, list *List) (*Item, error) {
	exclude, err := list.BeginAdd()
	if err != nil {
		return nil, err
	}
	id, fragment, err := c.add(ctx, hostID, fieldID, exclude)
	if err != nil {
		list.FailAdd()
		return nil, err
	}
	return list.CompleteAdd(id, fragment), nil
}

func (c *Client) add(ctx context.Context, hostID, fieldID int64, exclude []int64) (int64, string, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	ids := make([]string, 0, len(exclude))
	for _, id := range exclude {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	q := url.Values{
		"hostId":  {strconv.FormatInt(hostID, 10)},
		"fieldId": {strconv.FormatInt(fieldID, 10)},
		"exclude": {strings.Join(ids, ",")},
	}
	req, err := http.NewRequest(http.MethodGet, strings.TrimRight(c.BaseURL, "/")+"/repeater/add?"+q.Encode(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("building add request: %w", err)
	}
	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, "", fmt.Errorf("adding item: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("reading add response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("adding item: unexpected status %s", resp.Status)
	}
	header := resp.Header.Get(HeaderItem)
	if header == "" {
		return 0, "", ErrNoItem
	}
	id, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("adding item: bad %s header %q", HeaderItem, header)
	}
	return id, string(body), nil
}

// Save submits the host edit form with the hidden values of every list.
// On success each list is marked saved.
func (c *Client) Save(ctx context.Context, hostID int64, hostValues url.Values, lists ...*List) error {
	form := url.Values{}
	for k, v := range hostValues {
		form[k] = v
	}
	for _, l := range lists {
		for k, v := range l.Values() {
			form[k] = v
		}
	}

	req, err := http.NewRequest(http.MethodPost,
		strings.TrimRight(c.BaseURL, "/")+"/records/"+strconv.FormatInt(hostID, 10),
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// the server redirects browsers; a client only needs the status
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return fmt.Errorf("saving host %d: %w", hostID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("saving host %d: unexpected status %s", hostID, resp.Status)
	}
	for _, l := range lists {
		l.Saved()
	}
	return nil
}
