package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/clearhaul/realtime/internal/model"
	"github.com/clearhaul/realtime/internal/realtime"
)

// Client talks to the job service over its internal HTTP API. Calls go
// through a circuit breaker so a dead job service fails fast instead of
// piling up blocked events, and idempotent reads retry with backoff.
type Client struct {
	base    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "job-service",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		base:    baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
		log:     log,
	}
}

type jobView struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	DriverID   string `json:"driver_id"`
	Status     string `json:"status"`
}

func (c *Client) IsParticipant(ctx context.Context, userID, jobID string) (bool, error) {
	job, err := c.getJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return job.CustomerID == userID || (job.DriverID != "" && job.DriverID == userID), nil
}

func (c *Client) AssignedDriver(ctx context.Context, jobID string) (string, error) {
	job, err := c.getJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.DriverID, nil
}

func (c *Client) CustomerOf(ctx context.Context, jobID string) (string, error) {
	job, err := c.getJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	return job.CustomerID, nil
}

func (c *Client) SetDriverLocation(ctx context.Context, jobID, driverID string, lat, lng float64) error {
	body := map[string]any{"driver_id": driverID, "lat": lat, "lng": lng}
	return c.do(ctx, http.MethodPut, "/internal/jobs/"+jobID+"/driver-location", body, nil)
}

func (c *Client) SetStatus(ctx context.Context, jobID, status string, meta map[string]string) (model.JobRecord, error) {
	body := map[string]any{"status": status, "meta": meta}
	var out model.JobRecord
	err := c.do(ctx, http.MethodPatch, "/internal/jobs/"+jobID+"/status", body, &out)
	return out, err
}

func (c *Client) PlaceBid(ctx context.Context, jobID, driverID string, amount float64, eta, notes string) (model.BidRecord, error) {
	body := map[string]any{"driver_id": driverID, "amount": amount, "eta": eta, "notes": notes}
	var out model.BidRecord
	err := c.do(ctx, http.MethodPost, "/internal/jobs/"+jobID+"/bids", body, &out)
	return out, err
}

func (c *Client) getJob(ctx context.Context, jobID string) (jobView, error) {
	var job jobView
	op := func() error {
		return c.do(ctx, http.MethodGet, "/internal/jobs/"+jobID, nil, &job)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.Retry(func() error {
		err := op()
		// Definitive answers from the job service are not retryable.
		if err != nil && (isClass(err, realtime.ErrNotFound) || isClass(err, realtime.ErrForbidden)) {
			return backoff.Permanent(err)
		}
		return err
	}, b); err != nil {
		return jobView{}, err
	}
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		var rd io.Reader
		if body != nil {
			buf, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			rd = bytes.NewReader(buf)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("%w: job service: %s %s", realtime.ErrNotFound, method, path)
		case resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: job service: %s %s", realtime.ErrForbidden, method, path)
		case resp.StatusCode >= 400:
			return nil, fmt.Errorf("job service: %s %s: status %d", method, path, resp.StatusCode)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("job service: decode %s %s: %w", method, path, err)
			}
		}
		return nil, nil
	})
	return err
}

func isClass(err, class error) bool {
	return err != nil && errors.Is(err, class)
}
