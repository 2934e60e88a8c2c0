package duo

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refractionPOINT/duologsync/config"
)

var apiNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type recordedCall struct {
	method string
	uri    string
	params url.Values
}

func fakeAPI(body string, err error) (*API, *[]recordedCall) {
	calls := &[]recordedCall{}
	a := newAPI(func(method string, uri string, params url.Values) (*http.Response, []byte, error) {
		*calls = append(*calls, recordedCall{method, uri, params})
		if err != nil {
			return nil, nil, err
		}
		return &http.Response{StatusCode: http.StatusOK}, []byte(body), nil
	})
	a.now = func() time.Time { return apiNow }
	return a, calls
}

func TestFetchAuthLogs(t *testing.T) {
	a, calls := fakeAPI(`{
		"stat": "OK",
		"response": {
			"authlogs": [
				{"txid": "a", "timestamp": 1709280000, "isotimestamp": "2024-03-01T08:00:00.250+00:00"},
				{"txid": "b", "timestamp": 1709280001}
			],
			"metadata": {"next_offset": ["1709280001000", "b"]}
		}
	}`, nil)

	minTime := time.Unix(1709200000, 0)
	page, err := a.Fetch(config.EndpointAuth, Cursor{MinTime: minTime})
	require.NoError(t, err)
	require.Len(t, *calls, 1)

	call := (*calls)[0]
	assert.Equal(t, http.MethodGet, call.method)
	assert.Equal(t, authLogsPath, call.uri)
	assert.Equal(t, "1709200000000", call.params.Get("mintime"))
	assert.Equal(t, "1709294400000", call.params.Get("maxtime"))
	assert.Equal(t, "1000", call.params.Get("limit"))
	assert.Equal(t, "ts:asc", call.params.Get("sort"))
	assert.Empty(t, call.params.Get("next_offset"))

	require.Len(t, page.Events, 2)
	assert.JSONEq(t, `{"txid": "b", "timestamp": 1709280001}`, string(page.Events[1]))
	assert.Equal(t, []string{"1709280001000", "b"}, page.NextOffset)
	assert.True(t, page.HasMore)

	_, err = a.Fetch(config.EndpointAuth, Cursor{MinTime: minTime, NextOffset: page.NextOffset})
	require.NoError(t, err)
	assert.Equal(t, "1709280001000,b", (*calls)[1].params.Get("next_offset"))
}

func TestFetchAuthLogsLastPage(t *testing.T) {
	a, _ := fakeAPI(`{"stat": "OK", "response": {"authlogs": [], "metadata": {}}}`, nil)
	page, err := a.Fetch(config.EndpointAuth, Cursor{MinTime: apiNow})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
	assert.Empty(t, page.NextOffset)
	assert.False(t, page.HasMore)
}

func TestFetchV1Logs(t *testing.T) {
	for endpoint, path := range map[string]string{
		config.EndpointAdminAction: adminLogsPath,
		config.EndpointTelephony:   telephonyLogsPath,
	} {
		t.Run(endpoint, func(t *testing.T) {
			a, calls := fakeAPI(`{"stat": "OK", "response": [{"timestamp": 1709280000}, {"timestamp": 1709280005}]}`, nil)
			page, err := a.Fetch(endpoint, Cursor{MinTime: time.Unix(1709200000, 0)})
			require.NoError(t, err)
			require.Len(t, *calls, 1)
			assert.Equal(t, path, (*calls)[0].uri)
			assert.Equal(t, url.Values{"mintime": []string{"1709200000"}}, (*calls)[0].params)
			assert.Len(t, page.Events, 2)
			assert.False(t, page.HasMore)
		})
	}
}

func TestFetchErrors(t *testing.T) {
	a, _ := fakeAPI(`{"stat": "FAIL", "code": 40002, "message": "Invalid request parameters", "message_detail": "mintime"}`, nil)
	_, err := a.Fetch(config.EndpointTelephony, Cursor{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code=40002")
	assert.Contains(t, err.Error(), `detail="mintime"`)

	a, _ = fakeAPI(`<html>bad gateway</html>`, nil)
	_, err = a.Fetch(config.EndpointAuth, Cursor{})
	assert.ErrorContains(t, err, "invalid JSON")

	a, _ = fakeAPI("", errors.New("connection refused"))
	_, err = a.Fetch(config.EndpointAdminAction, Cursor{})
	assert.ErrorContains(t, err, "connection refused")

	a, calls := fakeAPI(`{"stat": "OK", "response": []}`, nil)
	_, err = a.Fetch("sms", Cursor{})
	assert.ErrorContains(t, err, "unknown endpoint")
	assert.Empty(t, *calls)
}

func events(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(raw))
	for _, r := range raw {
		out = append(out, json.RawMessage(r))
	}
	return out
}

func TestAdvance(t *testing.T) {
	start := time.Unix(1709200000, 0)
	cur := Cursor{MinTime: start}

	next := Advance(config.EndpointAuth, cur, &Page{
		Events:     events(`{"timestamp": 1709280000}`),
		NextOffset: []string{"1709280000000", "x"},
	})
	assert.True(t, next.MinTime.Equal(start))
	assert.Equal(t, []string{"1709280000000", "x"}, next.NextOffset)

	next = Advance(config.EndpointAuth, Cursor{MinTime: start, NextOffset: []string{"1", "x"}}, &Page{
		Events: events(`{"timestamp": 1709280000, "isotimestamp": "2024-03-01T08:00:00.250+00:00"}`),
	})
	assert.True(t, next.MinTime.Equal(time.Date(2024, 3, 1, 8, 0, 0, 251*int(time.Millisecond), time.UTC)), next.MinTime)
	assert.Empty(t, next.NextOffset)

	next = Advance(config.EndpointTelephony, cur, &Page{
		Events: events(`{"timestamp": 1709280000}`, `{"timestamp": 1709280005}`),
	})
	assert.True(t, next.MinTime.Equal(time.Unix(1709280006, 0)))

	// Nothing new and unusable timestamps keep the cursor in place.
	assert.True(t, Advance(config.EndpointAdminAction, cur, &Page{}).MinTime.Equal(start))
	assert.True(t, Advance(config.EndpointAdminAction, cur, &Page{
		Events: events(`{"action": "login"}`),
	}).MinTime.Equal(start))

	// The cursor never moves back.
	assert.True(t, Advance(config.EndpointAdminAction, cur, &Page{
		Events: events(`{"timestamp": 1000}`),
	}).MinTime.Equal(start))
}
