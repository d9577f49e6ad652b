package contentapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-floor/utils"
)

var ErrUnavailable = errors.New("content backend unavailable")

// MenuSnapshot is the menu document as served by the content backend. Its
// shape belongs to that service, so it is carried through untouched.
type MenuSnapshot json.RawMessage

func (m MenuSnapshot) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return json.RawMessage(m).MarshalJSON()
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client reads menu content for diner sessions.
type Client struct {
	http    *resty.Client
	timeout time.Duration
}

// NewClient returns a client for baseURL. A zero timeout defaults to 3s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(100*time.Millisecond).
		SetRetryMaxWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json")

	return &Client{http: http, timeout: timeout}
}

// MenuSnapshot fetches the current menu of a branch.
func (c *Client) MenuSnapshot(ctx context.Context, branchID string) (MenuSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body envelope
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("branch_id", branchID).
		SetResult(&body).
		Get("/menu/snapshot")
	if err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"branch_id": branchID,
			"error":     err,
		}).Error("Content backend call failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("%w: empty menu", ErrUnavailable)
	}
	return MenuSnapshot(body.Data), nil
}
