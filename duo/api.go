package duo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	duoapi "github.com/duosecurity/duo_api_golang"
	"github.com/tidwall/gjson"

	"github.com/refractionPOINT/duologsync/config"
)

const (
	authLogsPath      = "/admin/v2/logs/authentication"
	adminLogsPath     = "/admin/v1/logs/administrator"
	telephonyLogsPath = "/admin/v1/logs/telephony"

	// Maximum records returned by one call.
	pageLimit = 1000

	defaultAPITimeout = 15 * time.Second
	userAgent         = "duologsync"
)

// signedCall matches (*duoapi.DuoApi).SignedCall without request options.
type signedCall func(method string, uri string, params url.Values) (*http.Response, []byte, error)

// Cursor is the position of an endpoint in its log stream.
type Cursor struct {
	MinTime time.Time
	// NextOffset is the paging token of the v2 authentication logs.
	NextOffset []string
}

type Page struct {
	Events     []json.RawMessage
	NextOffset []string
	// HasMore is set when the API has more records ready right away.
	HasMore bool
}

// Fetcher returns one page of logs for an endpoint.
type Fetcher interface {
	Fetch(endpoint string, cur Cursor) (*Page, error)
}

// API is a Duo Admin API client for the three log endpoints.
type API struct {
	call signedCall
	now  func() time.Time
}

func NewAPI(creds config.Credentials) *API {
	client := duoapi.NewDuoApi(creds.IKey, creds.SKey, creds.Host, userAgent, duoapi.SetTimeout(defaultAPITimeout))
	return newAPI(func(method string, uri string, params url.Values) (*http.Response, []byte, error) {
		return client.SignedCall(method, uri, params)
	})
}

func newAPI(call signedCall) *API {
	return &API{
		call: call,
		now:  time.Now,
	}
}

func (a *API) Fetch(endpoint string, cur Cursor) (*Page, error) {
	params := url.Values{}
	var path string
	switch endpoint {
	case config.EndpointAuth:
		path = authLogsPath
		params.Set("mintime", strconv.FormatInt(cur.MinTime.UnixMilli(), 10))
		params.Set("maxtime", strconv.FormatInt(a.now().UnixMilli(), 10))
		params.Set("limit", strconv.Itoa(pageLimit))
		params.Set("sort", "ts:asc")
		if len(cur.NextOffset) != 0 {
			params.Set("next_offset", strings.Join(cur.NextOffset, ","))
		}
	case config.EndpointAdminAction:
		path = adminLogsPath
		params.Set("mintime", strconv.FormatInt(cur.MinTime.Unix(), 10))
	case config.EndpointTelephony:
		path = telephonyLogsPath
		params.Set("mintime", strconv.FormatInt(cur.MinTime.Unix(), 10))
	default:
		return nil, fmt.Errorf("unknown endpoint: %s", endpoint)
	}

	_, body, err := a.call(http.MethodGet, path, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: invalid JSON response", path)
	}
	res := gjson.ParseBytes(body)
	if stat := res.Get("stat").String(); stat != "OK" {
		return nil, fmt.Errorf("%s: stat=%s code=%d message=%q detail=%q", path, stat, res.Get("code").Int(), res.Get("message").String(), res.Get("message_detail").String())
	}

	page := &Page{}
	logs := res.Get("response")
	if endpoint == config.EndpointAuth {
		logs = res.Get("response.authlogs")
		for _, o := range res.Get("response.metadata.next_offset").Array() {
			page.NextOffset = append(page.NextOffset, o.String())
		}
	}
	for _, l := range logs.Array() {
		page.Events = append(page.Events, json.RawMessage(l.Raw))
	}
	if endpoint == config.EndpointAuth {
		page.HasMore = len(page.NextOffset) != 0 && len(page.Events) != 0
	} else {
		page.HasMore = len(page.Events) >= pageLimit
	}
	return page, nil
}

// Advance returns the cursor following page.
func Advance(endpoint string, cur Cursor, page *Page) Cursor {
	if endpoint == config.EndpointAuth && len(page.NextOffset) != 0 {
		return Cursor{MinTime: cur.MinTime, NextOffset: page.NextOffset}
	}
	next := Cursor{MinTime: cur.MinTime}
	if len(page.Events) == 0 {
		return next
	}
	ts, ok := eventTime(page.Events[len(page.Events)-1])
	if !ok {
		return next
	}
	// The authentication logs carry millisecond timestamps.
	step := time.Second
	if endpoint == config.EndpointAuth {
		step = time.Millisecond
	}
	if t := ts.Add(step); t.After(next.MinTime) {
		next.MinTime = t
	}
	return next
}

// eventTime prefers isotimestamp, which can carry milliseconds, over the
// timestamp in seconds.
func eventTime(event json.RawMessage) (time.Time, bool) {
	if its := gjson.GetBytes(event, "isotimestamp"); its.Exists() {
		if t, err := time.Parse(time.RFC3339, its.String()); err == nil {
			return t, true
		}
	}
	if ts := gjson.GetBytes(event, "timestamp"); ts.Exists() {
		return time.Unix(ts.Int(), 0), true
	}
	return time.Time{}, false
}
