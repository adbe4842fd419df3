package track17http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/ShipSync/internal/integrations/aggregator"
	"github.com/pkg/errors"
)

// Код отказа агрегатора "not allowed to retrack".
const retrackNotAllowedCode = -18019909

// KeyProvider отдаёт актуальный API-ключ агрегатора (см. services/appconfig).
type KeyProvider interface {
	APIKey(ctx context.Context) (string, error)
}

type Client struct {
	baseURL string
	keys    KeyProvider
	httpc   *http.Client
	log     *slog.Logger
}

func New(baseURL string, keys KeyProvider) *Client {
	if baseURL == "" {
		baseURL = "https://api.17track.net"
	}
	return &Client{
		baseURL: baseURL,
		keys:    keys,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: slog.Default(),
	}
}

func (c *Client) WithLogger(log *slog.Logger) *Client {
	c.log = log
	return c
}

type numberParam struct {
	Number string `json:"number"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rejectedEntry struct {
	Number string   `json:"number"`
	Error  apiError `json:"error"`
}

type acceptedInfo struct {
	Number    string `json:"number"`
	TrackInfo *struct {
		LatestStatus struct {
			Status    string `json:"status"`
			SubStatus string `json:"sub_status"`
		} `json:"latest_status"`
		LatestEvent struct {
			TimeUTC     string `json:"time_utc"`
			Description string `json:"description"`
		} `json:"latest_event"`
	} `json:"track_info"`
}

type apiResp struct {
	Code int `json:"code"`
	Data struct {
		Accepted []acceptedInfo  `json:"accepted"`
		Rejected []rejectedEntry `json:"rejected"`
	} `json:"data"`
}

func (c *Client) call(ctx context.Context, op string, numbers []string) (*apiResp, error) {
	if len(numbers) == 0 {
		return nil, errors.New("numbers is empty")
	}
	if len(numbers) > aggregator.MaxBatch {
		return nil, fmt.Errorf("too many numbers (max %d)", aggregator.MaxBatch)
	}

	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "aggregator api key")
	}

	params := make([]numberParam, 0, len(numbers))
	for _, n := range numbers {
		params = append(params, numberParam{Number: n})
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/track/v2.2/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", key)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("aggregator http %d on %s", resp.StatusCode, op)
	}

	var r apiResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	if r.Code != 0 {
		return nil, fmt.Errorf("aggregator code=%d on %s", r.Code, op)
	}
	return &r, nil
}

func (c *Client) Register(ctx context.Context, numbers []string) (aggregator.RegisterResult, error) {
	r, err := c.call(ctx, "register", numbers)
	if err != nil {
		return aggregator.RegisterResult{}, err
	}

	out := aggregator.RegisterResult{}
	for _, a := range r.Data.Accepted {
		out.Accepted = append(out.Accepted, a.Number)
	}
	for _, rej := range r.Data.Rejected {
		out.Rejected = append(out.Rejected, aggregator.Rejection{
			Number:  rej.Number,
			Code:    rej.Error.Code,
			Message: rej.Error.Message,
		})
	}
	return out, nil
}

func (c *Client) Retrack(ctx context.Context, number string) error {
	r, err := c.call(ctx, "retrack", []string{number})
	if err != nil {
		return err
	}
	for _, rej := range r.Data.Rejected {
		if rej.Number != number {
			continue
		}
		if rej.Error.Code == retrackNotAllowedCode {
			return aggregator.ErrRetrackNotAllowed
		}
		return fmt.Errorf("retrack rejected: %s (code %d)", rej.Error.Message, rej.Error.Code)
	}
	return nil
}

func (c *Client) StopTrack(ctx context.Context, number string) error {
	r, err := c.call(ctx, "stoptrack", []string{number})
	if err != nil {
		return err
	}
	for _, rej := range r.Data.Rejected {
		if rej.Number == number {
			return fmt.Errorf("stoptrack rejected: %s (code %d)", rej.Error.Message, rej.Error.Code)
		}
	}
	return nil
}

func (c *Client) GetTrackInfo(ctx context.Context, numbers []string) ([]aggregator.TrackInfo, error) {
	r, err := c.call(ctx, "gettrackinfo", numbers)
	if err != nil {
		return nil, err
	}

	out := make([]aggregator.TrackInfo, 0, len(r.Data.Accepted))
	for _, a := range r.Data.Accepted {
		info := aggregator.TrackInfo{Number: a.Number}
		if a.TrackInfo != nil {
			info.Status = a.TrackInfo.LatestStatus.Status
			info.SubStatus = a.TrackInfo.LatestStatus.SubStatus
			info.LatestEventDes = a.TrackInfo.LatestEvent.Description
			if raw := a.TrackInfo.LatestEvent.TimeUTC; raw != "" {
				ts, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					// Остальные поля трека пригодны, время события просто пропускаем.
					c.log.Warn("gettrackinfo: bad time_utc", "number", a.Number, "time_utc", raw)
				} else {
					t := ts.UTC()
					info.LatestEventAt = &t
				}
			}
		}
		out = append(out, info)
	}
	return out, nil
}
